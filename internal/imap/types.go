package imap

import "strings"

// RawMessage is the payload returned for one sequence number.
type RawMessage struct {
	Seq   uint32
	UID   uint32
	Flags []string
	Body  []byte
}

const SeenFlag = `\Seen`

func (m RawMessage) Seen() bool {
	for _, flag := range m.Flags {
		if strings.EqualFold(flag, SeenFlag) {
			return true
		}
	}
	return false
}
