package runtime

import (
	"encoding/json"
	"reflect"
	"testing"
)

// The "command" key is polymorphic on the wire: a plain string when
// shell=true, an argv array when shell=false.
func TestCommandWireFormat(t *testing.T) {
	var c Command
	if err := json.Unmarshal([]byte(`{"command":"echo 'hello world'","shell":true,"timeout":0.1}`), &c); err != nil {
		t.Fatalf("unmarshal string form: %v", err)
	}
	if !c.Shell || c.Command != "echo 'hello world'" || c.Timeout != 0.1 {
		t.Fatalf("unexpected decode: %+v", c)
	}

	if err := json.Unmarshal([]byte(`{"command":["sleep","10"]}`), &c); err != nil {
		t.Fatalf("unmarshal argv form: %v", err)
	}
	if c.Shell || !reflect.DeepEqual(c.Argv, []string{"sleep", "10"}) {
		t.Fatalf("unexpected decode: %+v", c)
	}

	data, err := json.Marshal(Command{Argv: []string{"ls", "-la"}})
	if err != nil {
		t.Fatalf("marshal argv form: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if _, ok := wire["command"].([]any); !ok {
		t.Fatalf("expected argv form to marshal as an array, got %s", data)
	}
}
