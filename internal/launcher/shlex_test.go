package launcher

import (
	"reflect"
	"testing"
)

func TestTokenizeBasic(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/bin/true", []string{"/bin/true"}},
		{"sleep 60", []string{"sleep", "60"}},
		{"echo 'hello world'", []string{"echo", "hello world"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo hello\ world`, []string{"echo", "hello world"}},
		{`echo "a\"b"`, []string{"echo", `a"b`}},
		{"  echo   spaced  ", []string{"echo", "spaced"}},
	}
	for _, c := range cases {
		got, err := Tokenize(c.in)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", c.in, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("Tokenize(%q) = %#v, want %#v", c.in, got, c.want)
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	bad := []string{"", "   ", "echo 'unterminated", `echo "unterminated`, `echo \`}
	for _, in := range bad {
		if _, err := Tokenize(in); err == nil {
			t.Fatalf("Tokenize(%q) expected error", in)
		}
	}
}
