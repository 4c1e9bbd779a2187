// Package eventlog records a run's event log: one JSON object per line,
// appended while recording is enabled and the current simulated time or
// event number falls into the recording intervals.
//
// Every record carries its kind, the simulated time in raw ticks ("t") and
// the number of the event being executed ("event"). This package stores
// pure data and knows nothing about the controller driving it.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/desim/envir/sim"
)

// Kind identifies a record type.
type Kind string

const (
	KindHeader           Kind = "header"
	KindSimulationBegin  Kind = "simulation-begin"
	KindEvent            Kind = "event"
	KindMessageScheduled Kind = "message-scheduled"
	KindMessageCancelled Kind = "message-cancelled"
	KindMessageSent      Kind = "message-sent"
	KindComponentCreated Kind = "component-created"
	KindComponentDeleted Kind = "component-deleted"
	KindLogLine          Kind = "log"
	KindSimulationEnd    Kind = "simulation-end"
)

// MessageRecord describes the message of a message record.
type MessageRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name,omitempty"`
	Kind        int    `json:"kind"`
	Src         int    `json:"src"`
	Dst         int    `json:"dst"`
	SendTime    int64  `json:"sendTime"`
	ArrivalTime int64  `json:"arrivalTime"`
}

// Record is one line of the event log.
type Record struct {
	Kind      Kind              `json:"kind"`
	T         int64             `json:"t"`
	Event     int64             `json:"event"`
	Component string            `json:"component,omitempty"`
	Message   *MessageRecord    `json:"message,omitempty"`
	Text      string            `json:"text,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Time returns the record's simulated time.
func (r Record) Time() sim.Time { return sim.Time(r.T) }

func messageRecord(m sim.Message) *MessageRecord {
	return &MessageRecord{
		ID:          m.ID,
		Name:        m.Name,
		Kind:        m.Kind,
		Src:         m.SrcID,
		Dst:         m.DstID,
		SendTime:    m.SendTime.Raw(),
		ArrivalTime: m.ArrivalTime.Raw(),
	}
}

// ReadFile parses an event log file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}
