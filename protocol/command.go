package protocol

import "fmt"

// CommandID identifies a request. Ids are append only; never renumber.
type CommandID int32

const (
	CmdPing         CommandID = 1
	CmdGetRow       CommandID = 2
	CmdGetTable     CommandID = 3
	CmdUpdate       CommandID = 4
	CmdInvalidate   CommandID = 5
	CmdListenCaches CommandID = 6
	CmdGetFile      CommandID = 7

	lastCommand = CmdGetFile
)

var commandNames = map[CommandID]string{
	CmdPing:         "ping",
	CmdGetRow:       "get_row",
	CmdGetTable:     "get_table",
	CmdUpdate:       "update",
	CmdInvalidate:   "invalidate",
	CmdListenCaches: "listen_caches",
	CmdGetFile:      "get_file",
}

// Valid reports whether c is an enumerated command.
func (c CommandID) Valid() bool {
	return c >= CmdPing && c <= lastCommand
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// WriteCommand starts a request by writing its command id.
func WriteCommand(e *Encoder, c CommandID) error {
	return e.WriteCompactInt(int64(c))
}

// ReadCommand reads a command id; unknown ids are ErrUnknownCommand.
func ReadCommand(d *Decoder) (CommandID, error) {
	n, err := d.ReadCompactInt()
	if err != nil {
		return 0, err
	}
	c := CommandID(n)
	if !c.Valid() {
		return c, fmt.Errorf("%w: %d", ErrUnknownCommand, n)
	}
	return c, nil
}
