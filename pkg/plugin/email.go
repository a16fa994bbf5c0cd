package plugin

import (
	"fmt"

	"basil/pkg/bus"
)

// EmailStrategy classifies inbound email for an email checker.
type EmailStrategy interface {
	CheckEmail(email bus.Email) (Match, bool)
}

// SubjectMatches returns a strategy that applies trigger to the subject line.
func SubjectMatches(trigger Trigger) EmailStrategy {
	return subjectStrategy{trigger: trigger}
}

type subjectStrategy struct {
	trigger Trigger
}

func (s subjectStrategy) CheckEmail(email bus.Email) (Match, bool) {
	return s.trigger.Match(email.Subject)
}

func (s subjectStrategy) String() string {
	return fmt.Sprintf("subject %s", s.trigger)
}

// SenderIs matches mail whose From address equals address exactly.
type SenderIs string

func (s SenderIs) CheckEmail(email bus.Email) (Match, bool) {
	if string(s) == "" || email.From != string(s) {
		return Match{}, false
	}
	return Match{}, true
}

func (s SenderIs) String() string {
	return "sender " + string(s)
}
