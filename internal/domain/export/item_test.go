package export

import (
	"fmt"
	"testing"
	"time"
)

func TestDisplayName(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	cases := []struct {
		name string
		item Item
		want string
	}{
		{
			name: "documentWithDeclaredName",
			item: Item{Kind: KindDocument, Name: "report.pdf"},
			want: "report.pdf",
		},
		{
			name: "photoGetsTimestampedJpgName",
			item: Item{Kind: KindPhoto},
			want: fmt.Sprintf("photo_%d.jpg", now.Unix()),
		},
		{
			name: "otherGetsGenericName",
			item: Item{Kind: KindOther},
			want: fmt.Sprintf("file_%d", now.Unix()),
		},
		{
			name: "documentWithoutNameFallsBack",
			item: Item{Kind: KindDocument},
			want: fmt.Sprintf("file_%d", now.Unix()),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.item.DisplayName(now); got != tc.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSortOldestFirst(t *testing.T) {
	t.Parallel()

	items := []Item{{MessageID: 30}, {MessageID: 10}, {MessageID: 20}}
	SortOldestFirst(items)

	want := []int{10, 20, 30}
	for i, item := range items {
		if item.MessageID != want[i] {
			t.Fatalf("items[%d].MessageID = %d, want %d", i, item.MessageID, want[i])
		}
	}
}
