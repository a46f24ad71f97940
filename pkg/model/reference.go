package model

// Reference is a quoted scripture excerpt paired with its citation, e.g.
// {Text: "Porque Deus amou o mundo...", Citation: "João 3:16"}.
type Reference struct {
	Text     string `json:"text"`
	Citation string `json:"citation"`
}

// IsZero reports whether the reference carries no citation
func (r Reference) IsZero() bool {
	return r.Citation == ""
}
