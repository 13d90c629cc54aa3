// Package speech turns the user's voice into guidance commands.
//
// Devices either send a final transcript from their own recognizer or stream
// raw PCM16 audio. Audio is segmented into utterances by a level-based voice
// activity detector and transcribed by a Recognizer. Transcripts are mapped
// to commands with ParseCommand.
package speech

import (
	"strings"
	"unicode"
)

// CommandKind identifies a voice command.
type CommandKind string

const (
	CommandUnknown        CommandKind = "unknown"
	CommandScanLeft       CommandKind = "scan_left"
	CommandScanRight      CommandKind = "scan_right"
	CommandGoForward      CommandKind = "go_forward"
	CommandHelp           CommandKind = "help"
	CommandRepeat         CommandKind = "repeat"
	CommandNavigate       CommandKind = "navigate"
	CommandStopNavigation CommandKind = "stop_navigation"
	CommandWhereAmI       CommandKind = "where_am_i"
	CommandEmergency      CommandKind = "emergency"
)

// Command is a parsed voice command.
type Command struct {
	Kind CommandKind `json:"kind"`

	// Destination is set for CommandNavigate.
	Destination string `json:"destination,omitempty"`

	// Transcript is the normalized input.
	Transcript string `json:"transcript"`
}

// Spoken replies for the camera and movement commands.
const (
	ReplyScanLeft  = "Scanning left. Please move your camera to the left."
	ReplyScanRight = "Scanning right. Please move your camera to the right."
	ReplyGoForward = "Moving forward. Please proceed."
	ReplyHelp      = "Emergency help activated."
)

var navigatePrefixes = []string{
	"navigate to ",
	"take me to ",
	"directions to ",
	"go to ",
}

var stopPhrases = []string{
	"stop navigation",
	"stop navigating",
	"cancel navigation",
	"end navigation",
}

var emergencyPhrases = []string{
	"emergency",
	"send my location",
	"share my location",
	"where am i exactly",
}

var wherePhrases = []string{
	"where am i",
	"what's next",
	"what is next",
	"next step",
}

// ParseCommand maps a transcript to a command. Matching is case-insensitive
// and ignores punctuation. Navigation phrases are checked first so that
// "go to" is not read as "go forward", and emergency phrases come before
// "where am i" and "help".
func ParseCommand(transcript string) Command {
	text := normalize(transcript)
	cmd := Command{Kind: CommandUnknown, Transcript: text}
	if text == "" {
		return cmd
	}

	for _, p := range stopPhrases {
		if strings.Contains(text, p) {
			cmd.Kind = CommandStopNavigation
			return cmd
		}
	}

	for _, p := range navigatePrefixes {
		if i := strings.Index(text, p); i >= 0 {
			dest := strings.TrimSpace(strings.TrimSuffix(text[i+len(p):], " please"))
			if dest != "" {
				cmd.Kind = CommandNavigate
				cmd.Destination = dest
				return cmd
			}
		}
	}

	for _, p := range emergencyPhrases {
		if strings.Contains(text, p) {
			cmd.Kind = CommandEmergency
			return cmd
		}
	}

	for _, p := range wherePhrases {
		if strings.Contains(text, p) {
			cmd.Kind = CommandWhereAmI
			return cmd
		}
	}

	switch {
	case strings.Contains(text, "scan left"):
		cmd.Kind = CommandScanLeft
	case strings.Contains(text, "scan right"):
		cmd.Kind = CommandScanRight
	case strings.Contains(text, "go forward"):
		cmd.Kind = CommandGoForward
	case strings.Contains(text, "help"):
		cmd.Kind = CommandHelp
	case strings.Contains(text, "repeat"):
		cmd.Kind = CommandRepeat
	}
	return cmd
}

// Reply returns the fixed spoken reply for a command, or "" when the reply
// depends on session state.
func (c Command) Reply() string {
	switch c.Kind {
	case CommandScanLeft:
		return ReplyScanLeft
	case CommandScanRight:
		return ReplyScanRight
	case CommandGoForward:
		return ReplyGoForward
	case CommandHelp:
		return ReplyHelp
	default:
		return ""
	}
}

// normalize lowercases, drops punctuation other than apostrophes and
// collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
