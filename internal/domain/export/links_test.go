package export

import (
	"reflect"
	"testing"
)

func TestParseLinkPair(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		text    string
		want    Range
		wantErr bool
	}{
		{
			name: "validPair",
			text: "https://t.me/c/123456/10\nhttps://t.me/c/123456/42",
			want: Range{ChatID: 123456, StartID: 10, EndID: 42},
		},
		{
			name: "surroundingWhitespace",
			text: "  https://t.me/c/9/1 \n\n https://t.me/c/9/5  \n",
			want: Range{ChatID: 9, StartID: 1, EndID: 5},
		},
		{
			name: "reversedOrderKeptAsGiven",
			text: "https://t.me/c/9/5\nhttps://t.me/c/9/1",
			want: Range{ChatID: 9, StartID: 5, EndID: 1},
		},
		{
			name:    "singleLink",
			text:    "https://t.me/c/123456/10",
			wantErr: true,
		},
		{
			name:    "threeLinks",
			text:    "https://t.me/c/1/1\nhttps://t.me/c/1/2\nhttps://t.me/c/1/3",
			wantErr: true,
		},
		{
			name:    "differentChats",
			text:    "https://t.me/c/1/10\nhttps://t.me/c/2/20",
			wantErr: true,
		},
		{
			name:    "publicUsernameLink",
			text:    "https://t.me/somechannel/10\nhttps://t.me/somechannel/20",
			wantErr: true,
		},
		{
			name:    "trailingGarbage",
			text:    "https://t.me/c/1/10?single\nhttps://t.me/c/1/20",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLinkPair(tc.text)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLinkPair() = %#v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLinkPair() error = %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseLinkPair() = %#v, want %#v", got, tc.want)
			}
		})
	}
}
