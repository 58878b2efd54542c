package schedule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

func writeTimetable(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, FileName(parseDay))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write timetable: %v", err)
	}
}

func TestFileNameUsesYYMMDD(t *testing.T) {
	if got := FileName(parseDay); got != "260504.csv" {
		t.Fatalf("FileName = %q", got)
	}
}

func TestLoaderFetchFromDir(t *testing.T) {
	dir := t.TempDir()
	writeTimetable(t, dir, "05:00:00,A,M,one\n06:00:00,A,M,two\nbad\n")

	l := NewLoader(NewDirSource(dir, zerolog.Nop()), newTestParser(t, 4), zerolog.Nop())
	recs, err := l.Fetch(context.Background(), parseDay)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
}

func TestLoaderFetchMissingIsUnavailable(t *testing.T) {
	l := NewLoader(NewDirSource(t.TempDir(), zerolog.Nop()), newTestParser(t, 4), zerolog.Nop())
	_, err := l.Fetch(context.Background(), parseDay)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestLoaderFetchEmptyIsNoRecords(t *testing.T) {
	dir := t.TempDir()
	writeTimetable(t, dir, "time,source,mix,item\n,,,\n")

	l := NewLoader(NewDirSource(dir, zerolog.Nop()), newTestParser(t, 4), zerolog.Nop())
	_, err := l.Fetch(context.Background(), parseDay)
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("err = %v, want ErrNoRecords", err)
	}
}

func TestFetchWithRetryGivesUp(t *testing.T) {
	l := NewLoader(NewDirSource(t.TempDir(), zerolog.Nop()), newTestParser(t, 4), zerolog.Nop())
	_, err := l.FetchWithRetry(context.Background(), parseDay, time.Millisecond, 3)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchWithRetryPicksUpLateFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(NewDirSource(dir, zerolog.Nop()), newTestParser(t, 4), zerolog.Nop())

	go func() {
		time.Sleep(50 * time.Millisecond)
		tmp := filepath.Join(dir, "upload.tmp")
		if err := os.WriteFile(tmp, []byte("05:00:00,A,M,late\n"), 0o644); err != nil {
			return
		}
		_ = os.Rename(tmp, filepath.Join(dir, FileName(parseDay)))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := l.FetchWithRetry(ctx, parseDay, 20*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("FetchWithRetry: %v", err)
	}
	if len(recs) != 1 || recs[0].ItemKey != "late" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestDirSourceWaitsForWriteToFinish(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir, zerolog.Nop())
	src.settle = 200 * time.Millisecond
	path := src.Path(parseDay)

	go func() {
		time.Sleep(30 * time.Millisecond)
		f, err := os.Create(path)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString("05:00:00,A,M,first\n")
		time.Sleep(20 * time.Millisecond)
		_, _ = f.WriteString("06:00:00,A,M,second\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := src.Wait(ctx, parseDay, 3*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "second") {
		t.Fatalf("Wait returned before the write finished: %q", data)
	}
}

func TestDirSourceWaitHonoursContext(t *testing.T) {
	src := NewDirSource(t.TempDir(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.Wait(ctx, parseDay, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type fakeObjects struct {
	objects map[string]string
}

func (f fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func TestS3SourceOpen(t *testing.T) {
	src := &S3Source{
		client: fakeObjects{objects: map[string]string{
			"station/timetables/260504.csv": "05:00:00,A,M,from-s3\n",
		}},
		bucket: "station",
		prefix: "timetables",
	}
	if got := src.Describe(parseDay); got != "s3://station/timetables/260504.csv" {
		t.Fatalf("Describe = %q", got)
	}

	l := NewLoader(src, newTestParser(t, 4), zerolog.Nop())
	recs, err := l.Fetch(context.Background(), parseDay)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 || !strings.EqualFold(recs[0].ItemKey, "from-s3") {
		t.Fatalf("records = %+v", recs)
	}

	_, err = l.Fetch(context.Background(), parseDay.AddDays(1))
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("missing object err = %v, want ErrSourceUnavailable", err)
	}
}
