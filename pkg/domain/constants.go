package domain

// Reserved names and fixed texts of the dialogue engine.
const (
	// HelpNodeName is the single node every location's help action leads to.
	HelpNodeName = "help"

	// HelpAction is the keyword injected into every location.
	HelpAction = "help"

	// HelpText is what the help node says before returning.
	HelpText = "There is no help."

	// NotUnderstoodText is sent when input matches no keyword.
	NotUnderstoodText = "I didn't understand that."

	// KeywordListPrefix introduces the list of accepted keywords.
	KeywordListPrefix = "You can say: "

	// DefaultMaxChainDepth bounds automatic transitions within one run.
	DefaultMaxChainDepth = 64
)
