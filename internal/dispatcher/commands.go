// Package dispatcher sends Codec 12 commands to connected devices and
// correlates their replies.
package dispatcher

import (
	"errors"
	"sort"
	"sync"

	"avl-gateway/internal/codec"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrDispatchFailed = errors.New("dispatch failed")
	ErrQuotaExceeded  = errors.New("daily command quota exceeded")
	ErrBadRequest     = errors.New("bad control request")
)

/* =======================================================================
                        COMMAND DEFINITION
======================================================================= */

type Command struct {
	Name  string
	Build func() []byte
	// DailyLimit overrides the gateway-wide quota when > 0.
	DailyLimit int
}

var (
	cmdMu    sync.RWMutex
	cmdTable = map[string]Command{}
)

func RegisterCommand(c Command) {
	cmdMu.Lock()
	defer cmdMu.Unlock()
	cmdTable[c.Name] = c
}

func getCmd(name string) (Command, bool) {
	cmdMu.RLock()
	defer cmdMu.RUnlock()
	c, ok := cmdTable[name]
	return c, ok
}

// CommandNames lists the registered commands in order.
func CommandNames() []string {
	cmdMu.RLock()
	defer cmdMu.RUnlock()
	out := make([]string, 0, len(cmdTable))
	for name := range cmdTable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func codec12(text string) func() []byte {
	frame := codec.BuildCodec12(text)
	return func() []byte { return append([]byte(nil), frame...) }
}

func init() {
	RegisterCommand(Command{Name: "getinfo", Build: codec12("getinfo")})
	RegisterCommand(Command{Name: "getio", Build: codec12("getio")})
}
