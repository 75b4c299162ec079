package song

import "testing"

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name              string
		describedLyrics   string
		fullDescribedSong string
		want              string
	}{
		{
			name:            "described lyrics",
			describedLyrics: "a song about rain",
			want:            "A song about rain",
		},
		{
			name:              "described lyrics win over description",
			describedLyrics:   "lyrics about the sea",
			fullDescribedSong: "a funky disco track",
			want:              "Lyrics about the sea",
		},
		{
			name:              "full description",
			fullDescribedSong: "a funky and groovy hip hop rap song",
			want:              "A funky and groovy hip hop rap song",
		},
		{
			name: "fallback",
			want: "Untitled Song",
		},
		{
			name:            "internal casing untouched",
			describedLyrics: "ballad about NYC at Night",
			want:            "Ballad about NYC at Night",
		},
		{
			name:            "already upper",
			describedLyrics: "Rock anthem",
			want:            "Rock anthem",
		},
		{
			name:            "multibyte first rune",
			describedLyrics: "électro chill",
			want:            "Électro chill",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveTitle(tt.describedLyrics, tt.fullDescribedSong)
			if got != tt.want {
				t.Errorf("deriveTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}
