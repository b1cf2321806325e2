package relay

// Room is a named group of clients. Any frame a member sends for the room is
// forwarded to every other member.
type Room struct {
	// ID is the name clients join by.
	ID string

	// Members holds every client currently joined.
	Members map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, Members: make(map[*Client]struct{})}
}

// Others returns the members other than c.
func (r *Room) Others(c *Client) []*Client {
	others := make([]*Client, 0, len(r.Members))
	for m := range r.Members {
		if m != c {
			others = append(others, m)
		}
	}
	return others
}
