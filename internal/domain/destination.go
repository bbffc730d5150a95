package domain

// Destination is a Telegram chat that receives artifacts and failure reports.
// ChatID is either a numeric chat id or an "@channel" username.
type Destination struct {
	ID       int64
	Name     string
	BotToken string
	ChatID   string
}

func (d Destination) String() string {
	return d.Name
}
