package services

// Publisher fans events out to realtime subscribers. Rooms are keyed by
// conversation id, personal channels by user id.
type Publisher interface {
	PublishToRoom(conversationID, event string, payload any)
	PublishToUser(userID, event string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) PublishToRoom(string, string, any) {}
func (nopPublisher) PublishToUser(string, string, any) {}

// NopPublisher discards every event.
var NopPublisher Publisher = nopPublisher{}
