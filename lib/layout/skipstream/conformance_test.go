package skipstream

import (
	"testing"

	"github.com/dsengine/ds/lib/kv/memkv"
	"github.com/dsengine/ds/lib/layout"
	"github.com/dsengine/ds/lib/layout/layouttest"
)

func TestConformance(t *testing.T) {
	layouttest.RunLayoutTests(t, "skipstream", func(t *testing.T) layout.Layout {
		l := New(memkv.New(), "data", "trie")
		if err := l.Create(); err != nil {
			t.Fatal(err)
		}
		return l
	})
}
