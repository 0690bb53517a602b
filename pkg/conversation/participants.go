package conversation

import "strings"

type Participant struct {
	Author             Author      `yaml:"author" json:"author"`
	Display            string      `yaml:"display" json:"display"`
	DefaultMessageType MessageType `yaml:"default_message_type,omitempty" json:"defaultMessageType,omitempty"`
}

// Participants maps between the display labels stored on nodes and the
// authors sent on the wire.
type Participants struct {
	User   Participant `yaml:"user" json:"user"`
	Bot    Participant `yaml:"bot" json:"bot"`
	System Participant `yaml:"system" json:"system"`
}

func DefaultParticipants() Participants {
	return Participants{
		User:   Participant{Author: AuthorUser, Display: "User", DefaultMessageType: MessageTypeMessage},
		Bot:    Participant{Author: AuthorAssistant, Display: "Assistant", DefaultMessageType: MessageTypeMessage},
		System: Participant{Author: AuthorSystem, Display: "System", DefaultMessageType: MessageTypeMessage},
	}
}

// WithBotDisplay returns a copy whose assistant is labeled display.
func (p Participants) WithBotDisplay(display string) Participants {
	if display != "" {
		p.Bot.Display = display
	}
	return p
}

func (p Participants) all() []Participant {
	return []Participant{p.User, p.Bot, p.System}
}

// AuthorOf converts a display label to its author. Labels that already are
// author names map to themselves. Unknown labels fall back to the user.
func (p Participants) AuthorOf(display string) Author {
	for _, part := range p.all() {
		if part.Display == display {
			return part.Author
		}
	}
	for _, part := range p.all() {
		if strings.EqualFold(string(part.Author), display) {
			return part.Author
		}
	}
	return AuthorUser
}

// DisplayOf converts an author to its display label.
func (p Participants) DisplayOf(author Author) string {
	for _, part := range p.all() {
		if part.Author == author {
			return part.Display
		}
	}
	return string(author)
}

func (p Participants) ByAuthor(author Author) (Participant, bool) {
	for _, part := range p.all() {
		if part.Author == author {
			return part, true
		}
	}
	return Participant{}, false
}
