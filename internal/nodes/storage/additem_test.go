package storage

import "testing"

func TestAttrPortNaming(t *testing.T) {
	cases := map[int]string{0: "attr_0", 7: "attr_7"}
	for i, want := range cases {
		if got := attrPortName(i); got != want {
			t.Errorf("attrPortName(%d) = %q, want %q", i, got, want)
		}
	}
}
