package media

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// Info is the display metadata of a media file.
type Info struct {
	Title    string        `json:"title"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Describe reads tags from path. Files without readable tags are titled
// after their base name. Duration is measured for mp3 files only and is left
// zero when ctx ends first.
func Describe(ctx context.Context, path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	info := Info{Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	if md, err := tag.ReadFrom(f); err == nil {
		if md.Title() != "" {
			info.Title = md.Title()
		}
		info.Artist = md.Artist()
		info.Album = md.Album()
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			info.Duration = mp3Duration(ctx, bufio.NewReaderSize(f, 64<<10))
		}
	}
	return info, nil
}

func mp3Duration(ctx context.Context, r io.Reader) time.Duration {
	dec := mp3.NewDecoder(r)
	var (
		total   time.Duration
		skipped int
		frame   mp3.Frame
	)
	for n := 0; ; n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return 0
		}
		if err := dec.Decode(&frame, &skipped); err != nil {
			if !errors.Is(err, io.EOF) && total == 0 {
				return 0
			}
			return total
		}
		total += frame.Duration()
	}
}
