package game

//go:generate mockgen -package=mocks -destination=mocks/mock_publisher.go stockticker/internal/game Publisher

// Publisher receives engine events after the change behind them is
// committed. Implementations must not block.
type Publisher interface {
	Publish(sessionID, event string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}
