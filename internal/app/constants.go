package app

const (
	Name               = "chatsync"
	ConfigFilename     = "config.json"
	DBFilename         = "cache.db"
	LogFilename        = "app.log"
	RecentMessagesLoad = 200
)
