package shlex

import (
	"reflect"
	"testing"
)

func TestSplitBashCommand(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "simple sequential commands",
			in:   "echo one\necho two\n",
			want: []string{"echo one", "echo two"},
		},
		{
			name: "escaped newline continuation",
			in:   "echo one \\\n  two\necho three\n",
			want: []string{"echo one   two", "echo three"},
		},
		{
			name: "heredoc body kept together",
			in:   "cat <<EOF\nline one\nline two\nEOF\necho done\n",
			want: []string{"cat <<EOF\nline one\nline two\nEOF", "echo done"},
		},
		{
			name: "python heredoc is one command",
			in:   "python <<EOF\nprint('hello world')\nprint('hello world 2')\nEOF",
			want: []string{"python <<EOF\nprint('hello world')\nprint('hello world 2')\nEOF"},
		},
		{
			name: "empty lines removed",
			in:   "echo one\n\n\necho two\n",
			want: []string{"echo one", "echo two"},
		},
		{
			name: "double bracket test is not a heredoc",
			in:   "[[ $env == $env ]]",
			want: []string{"[[ $env == $env ]]"},
		},
		{
			name: "comment only line survives",
			in:   "# echo 'hello world'",
			want: []string{"# echo 'hello world'"},
		},
		{
			name: "unterminated heredoc emitted as-is",
			in:   "cat <<EOF\nstill inside",
			want: []string{"cat <<EOF\nstill inside"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitBashCommand(tc.in, true, true)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitBashCommand(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitBashCommandEmptyInput(t *testing.T) {
	if got := SplitBashCommand("", true, true); len(got) != 0 {
		t.Fatalf("expected no commands for empty input, got %#v", got)
	}
}

func TestSplitBashCommandKeepsEmptiesWhenAsked(t *testing.T) {
	got := SplitBashCommand("echo one\n\necho two", false, false)
	want := []string{"echo one", "", "echo two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSplitBashCommandHeredocQuirkPreserved(t *testing.T) {
	// A "<<WORD" inside a quoted echo argument still opens a heredoc state
	// textually, since detection is line-based, not quote-aware. Not
	// "fixed" here intentionally.
	in := "echo \"looks like <<EOF but isn't\"\nEOF\necho next\n"
	got := SplitBashCommand(in, true, true)
	want := []string{"echo \"looks like <<EOF but isn't\"\nEOF", "echo next"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestJoinForSession(t *testing.T) {
	got := JoinForSession([]string{"cd /tmp", "ls"})
	want := "cd /tmp ; ls"
	if got != want {
		t.Fatalf("JoinForSession = %q, want %q", got, want)
	}
}
