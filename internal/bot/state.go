package bot

// State is where an update left the conversation. HandleUpdate returns it so
// callers and tests can follow the flow without inspecting Telegram traffic.
type State int

const (
	AwaitingCommand State = iota
	Welcome
	Help
	SearchResults
	MovieCard
	NotInCatalog
	PartSelection
	QualitySelection
	LinkGenerated
	NoFiles
	SubscriptionRequired
	TokenRedemption
	LinkExpired
	FileUnavailable
	Admin
	Ignored
)

var stateNames = [...]string{
	AwaitingCommand:      "awaiting_command",
	Welcome:              "welcome",
	Help:                 "help",
	SearchResults:        "search_results",
	MovieCard:            "movie_card",
	NotInCatalog:         "not_in_catalog",
	PartSelection:        "part_selection",
	QualitySelection:     "quality_selection",
	LinkGenerated:        "link_generated",
	NoFiles:              "no_files",
	SubscriptionRequired: "subscription_required",
	TokenRedemption:      "token_redemption",
	LinkExpired:          "link_expired",
	FileUnavailable:      "file_unavailable",
	Admin:                "admin",
	Ignored:              "ignored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
