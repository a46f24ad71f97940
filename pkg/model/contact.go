package model

// Contact is one broadcast recipient. ID is an opaque transport identifier
// (for WhatsApp gateways, the phone number in international digits).
type Contact struct {
	ID     string `json:"id" firestore:"-"`
	Name   string `json:"name" firestore:"name"`
	Active bool   `json:"active" firestore:"active"`
}

// ActiveContacts filters out inactive contacts
func ActiveContacts(contacts []*Contact) []*Contact {
	active := make([]*Contact, 0, len(contacts))
	for _, c := range contacts {
		if c != nil && c.Active {
			active = append(active, c)
		}
	}
	return active
}
