package protocol

import (
	"errors"
	"fmt"
)

// Opcode leads every record in a mutation stream.
type Opcode uint16

const (
	OpAttributes        Opcode = 0
	OpCharacterData     Opcode = 1
	OpChildList         Opcode = 2
	OpProperties        Opcode = 3
	OpEventSubscription Opcode = 4
	OpStorage           Opcode = 5
	OpObjectCreation    Opcode = 6
	OpObjectMutation    Opcode = 7
	OpObjectDeletion    Opcode = 8
	OpCallFunction      Opcode = 9
	OpFunctionCall      Opcode = 10
)

var opcodeNames = [...]string{
	OpAttributes:        "ATTRIBUTES",
	OpCharacterData:     "CHARACTER_DATA",
	OpChildList:         "CHILD_LIST",
	OpProperties:        "PROPERTIES",
	OpEventSubscription: "EVENT_SUBSCRIPTION",
	OpStorage:           "STORAGE",
	OpObjectCreation:    "OBJECT_CREATION",
	OpObjectMutation:    "OBJECT_MUTATION",
	OpObjectDeletion:    "OBJECT_DELETION",
	OpCallFunction:      "CALL_FUNCTION",
	OpFunctionCall:      "FUNCTION_CALL",
}

// String returns the string representation of the opcode
func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", uint16(o))
}

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated record")
)

// Fixed record lengths, opcode word included.
const (
	AttributesWords     = 5
	CharacterDataWords  = 3
	PropertiesWords     = 5
	StorageWords        = 5
	ObjectDeletionWords = 3
	FunctionCallWords   = 5
)

// Skip returns the number of words of the record starting at words[i].
func Skip(words []uint16, i int) (int, error) {
	if i >= len(words) {
		return 0, ErrTruncated
	}
	op := Opcode(words[i])
	var n int
	switch op {
	case OpAttributes:
		n = AttributesWords
	case OpCharacterData:
		n = CharacterDataWords
	case OpProperties:
		n = PropertiesWords
	case OpStorage:
		n = StorageWords
	case OpObjectDeletion:
		n = ObjectDeletionWords
	case OpFunctionCall:
		n = FunctionCallWords
	case OpChildList:
		if err := need(words, i, 6); err != nil {
			return 0, err
		}
		n = 6 + int(words[i+4]) + int(words[i+5])
	case OpEventSubscription:
		if err := need(words, i, 4); err != nil {
			return 0, err
		}
		n = 4 + 2*int(words[i+2]) + 3*int(words[i+3])
	case OpObjectCreation:
		return payloadRecord(words, i, 5, 2)
	case OpObjectMutation:
		return payloadRecord(words, i, 2, 2)
	case OpCallFunction:
		return payloadRecord(words, i, 5, 2)
	default:
		return 0, fmt.Errorf("%w %d at word %d", ErrUnknownOpcode, uint16(op), i)
	}
	if err := need(words, i, n); err != nil {
		return 0, err
	}
	return n, nil
}

// PayloadWords returns the length of the payload starting at words[i],
// including its two length words.
func PayloadWords(words []uint16, i int) (int, error) {
	if err := need(words, i, 2); err != nil {
		return 0, err
	}
	size := int(JoinUint32(words[i], words[i+1]))
	n := 2 + (size+1)/2
	if err := need(words, i, n); err != nil {
		return 0, err
	}
	return n, nil
}

func payloadRecord(words []uint16, i, head, payloads int) (int, error) {
	if err := need(words, i, head); err != nil {
		return 0, err
	}
	n := head
	for p := 0; p < payloads; p++ {
		size, err := PayloadWords(words, i+n)
		if err != nil {
			return 0, err
		}
		n += size
	}
	return n, nil
}

func need(words []uint16, i, n int) error {
	if i+n > len(words) {
		return fmt.Errorf("%w: need %d words at %d, have %d", ErrTruncated, n, i, len(words)-i)
	}
	return nil
}
