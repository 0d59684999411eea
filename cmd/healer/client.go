package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/untoldecay/healer/internal/config"
	"github.com/untoldecay/healer/internal/daemon"
)

// send delivers one command to the daemon and returns the raw reply.
// The protocol is one JSON command and one JSON reply per connection.
func send(action string, args interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	conn, err := net.DialTimeout("tcp", config.ListenAddr(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s (is it running?): %w", config.ListenAddr(), err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if err := json.NewEncoder(conn).Encode(daemon.Command{Action: action, Data: data}); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	return raw, nil
}

// call sends a command and prints the daemon's message; an error-status
// reply becomes a Go error.
func call(action string, args interface{}) error {
	raw, err := send(action, args)
	if err != nil {
		return err
	}
	var reply daemon.Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Status != daemon.StatusSuccess {
		return fmt.Errorf("%s", reply.Message)
	}
	if reply.Message != "" {
		fmt.Println(reply.Message)
	}
	return nil
}
