package repository

// GuardSize exposes the number of tracked keys to tests
func GuardSize(g *Guard) int {
	return g.size()
}
