package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
)

func TestEventStreamEmitsResourceChangeEvents(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, 1)

	streamRequest, err := http.NewRequest(http.MethodGet, api.server.URL+"/api/events?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", streamResp.Header.Get("Content-Type"))
	}

	type event struct {
		name string
		data string
	}
	events := make(chan event, 16)
	go func() {
		reader := bufio.NewReader(streamResp.Body)
		currentEventType := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(events)
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event:"):
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				events <- event{name: currentEventType, data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))}
			}
		}
	}()

	nextEvent := func() event {
		select {
		case received, ok := <-events:
			if !ok {
				t.Fatal("stream closed unexpectedly")
			}
			return received
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream event")
		}
		return event{}
	}

	// The first heartbeat confirms the subscription is registered.
	if first := nextEvent(); first.name != realtimeEventHeartbeat {
		t.Fatalf("expected initial heartbeat, got %q", first.name)
	}

	status, body := api.do(t, token, http.MethodPost, "/api/notes", `{"title":"hello world"}`)
	if status != http.StatusCreated {
		t.Fatalf("unexpected create status: %d %s", status, body)
	}
	var created model.Note
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("failed to decode created note: %v", err)
	}

	for {
		received := nextEvent()
		if received.name != model.EventResourceChange {
			continue
		}
		var change model.Change
		if err := json.Unmarshal([]byte(received.data), &change); err != nil {
			t.Fatalf("failed to decode event payload: %v", err)
		}
		if change.Kind != model.KindNotes || change.Op != model.ChangeCreated || len(change.IDs) != 1 || change.IDs[0] != created.ID {
			t.Fatalf("unexpected change %#v", change)
		}
		return
	}
}
