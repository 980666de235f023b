package domain

type ChannelID string

// Channel is the persisted chat channel. Persistence and membership
// management live with the external collaborator; the core only asks
// membership questions about it.
type Channel struct {
	ID      ChannelID `json:"id"`
	Name    string    `json:"name"`
	Members []UserID  `json:"members"`
}

func (c *Channel) HasMember(uid UserID) bool {
	for _, m := range c.Members {
		if m == uid {
			return true
		}
	}
	return false
}
