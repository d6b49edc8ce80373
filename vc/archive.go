package vc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/evoludigit/pggit/core"
)

// S3Config carries credentials for s3:// archive destinations. Zero fields
// fall back to the ambient AWS configuration.
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // custom S3-compatible endpoint
}

// archiveRecord is one line of an archive stream. Exactly one payload field
// is set, matching Type.
type archiveRecord struct {
	Type    string             `json:"type"` // blob, tree, commit, branch, attempt, event
	Blob    string             `json:"blob,omitempty"`
	Tree    *core.Tree         `json:"tree,omitempty"`
	Commit  *core.Commit       `json:"commit,omitempty"`
	Branch  *core.Branch       `json:"branch,omitempty"`
	Attempt *core.MergeAttempt `json:"attempt,omitempty"`
	Event   *core.Event        `json:"event,omitempty"`
}

// Export writes the repository's reachable closure (every object reachable
// from a branch head or pending attempt, plus refs, attempts and the event
// log) as a JSON-lines archive to dest. Destinations: a local path,
// file://, or s3://bucket/key.
func (e *Engine) Export(ctx context.Context, dest string, cfg *S3Config) error {
	w, err := openArchiveWriter(ctx, dest, cfg)
	if err != nil {
		return err
	}
	defer w.Close()

	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)

	branches, err := e.ListBranches()
	if err != nil {
		return err
	}
	attempts, err := e.ListAttempts()
	if err != nil {
		return err
	}

	var roots []core.Hash
	for _, b := range branches {
		if !b.Head.IsZero() {
			roots = append(roots, b.Head)
		}
	}
	for _, a := range attempts {
		roots = append(roots, a.SourceCommit, a.TargetCommit)
		if !a.MergeBase.IsZero() {
			roots = append(roots, a.MergeBase)
		}
	}

	// Objects first, dependency order: blobs, then trees, then commits.
	commits := make(map[core.Hash]core.Commit)
	trees := make(map[core.Hash]core.Tree)
	blobs := make(map[core.Hash]string)
	for _, root := range roots {
		for commit, err := range e.WalkHistory(ctx, root) {
			if err != nil {
				return err
			}
			if _, seen := commits[commit.Hash]; seen {
				continue
			}
			commits[commit.Hash] = commit
			if _, seen := trees[commit.Tree]; seen {
				continue
			}
			tree, err := e.GetTree(commit.Tree)
			if err != nil {
				return err
			}
			trees[commit.Tree] = tree
			for _, entry := range tree.Entries {
				if _, seen := blobs[entry.Blob]; seen {
					continue
				}
				definition, err := e.GetBlob(entry.Blob)
				if err != nil {
					return err
				}
				blobs[entry.Blob] = definition
			}
		}
	}

	// Conflict sides of pending attempts can carry blobs no tree references
	// yet, manual resolutions in particular.
	for _, attempt := range attempts {
		for _, conflict := range attempt.Conflicts {
			for _, hash := range []core.Hash{conflict.Base, conflict.Source, conflict.Target, conflict.Resolved} {
				if hash.IsZero() {
					continue
				}
				if _, seen := blobs[hash]; seen {
					continue
				}
				definition, err := e.GetBlob(hash)
				if err != nil {
					return err
				}
				blobs[hash] = definition
			}
		}
	}

	for _, definition := range blobs {
		if err := enc.Encode(archiveRecord{Type: "blob", Blob: definition}); err != nil {
			return err
		}
	}
	for _, tree := range trees {
		tree := tree
		if err := enc.Encode(archiveRecord{Type: "tree", Tree: &tree}); err != nil {
			return err
		}
	}
	for _, commit := range commits {
		commit := commit
		if err := enc.Encode(archiveRecord{Type: "commit", Commit: &commit}); err != nil {
			return err
		}
	}
	for _, branch := range branches {
		branch := branch
		if err := enc.Encode(archiveRecord{Type: "branch", Branch: &branch}); err != nil {
			return err
		}
	}
	for _, attempt := range attempts {
		attempt := attempt
		if err := enc.Encode(archiveRecord{Type: "attempt", Attempt: &attempt}); err != nil {
			return err
		}
	}
	events, err := e.Events(0, 0)
	if err != nil {
		return err
	}
	for _, event := range events {
		event := event
		if err := enc.Encode(archiveRecord{Type: "event", Event: &event}); err != nil {
			return err
		}
	}
	return out.Flush()
}

// Import replays an archive stream into the store. Object hashes are
// recomputed on the way in, so a tampered archive fails verification
// instead of planting bad objects. Importing into a non-empty store is
// additive; existing branches with archive counterparts fail with
// core.ErrDuplicateBranch.
func (e *Engine) Import(ctx context.Context, src string, cfg *S3Config) error {
	r, err := openArchiveReader(ctx, src, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	commitOrder := make([]core.Commit, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var events []core.Event
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var record archiveRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return fmt.Errorf("corrupt archive record: %w", err)
		}
		switch record.Type {
		case "blob":
			if _, err := e.StoreBlob(record.Blob); err != nil {
				return err
			}
		case "tree":
			tree, err := e.BuildTree(record.Tree.Entries)
			if err != nil {
				return err
			}
			if tree.Hash != record.Tree.Hash {
				return fmt.Errorf("tree %s fails verification", record.Tree.Hash.Short())
			}
		case "commit":
			// Deferred so parents always precede children regardless of
			// archive order.
			commitOrder = append(commitOrder, *record.Commit)
		case "branch":
			if err := e.RestoreBranch(*record.Branch); err != nil {
				return err
			}
		case "attempt":
			if err := e.SaveAttempt(*record.Attempt, nil); err != nil {
				return err
			}
		case "event":
			record.Event.Seq = 0 // the store reassigns
			events = append(events, *record.Event)
		default:
			return fmt.Errorf("unknown archive record type %q", record.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	restored := make(map[core.Hash]bool, len(commitOrder))
	for len(commitOrder) > 0 {
		progressed := false
		remaining := commitOrder[:0]
		for _, commit := range commitOrder {
			ready := true
			for _, parent := range commit.Parents {
				if !restored[parent] {
					ready = false
					break
				}
			}
			if !ready {
				remaining = append(remaining, commit)
				continue
			}
			if err := e.RestoreCommit(commit); err != nil {
				return err
			}
			restored[commit.Hash] = true
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("archive has commits with missing parents")
		}
		commitOrder = remaining
	}
	return e.AppendEvents(events)
}

func openArchiveWriter(ctx context.Context, dest string, cfg *S3Config) (io.WriteCloser, error) {
	switch {
	case strings.HasPrefix(dest, "s3://"):
		return openS3Writer(ctx, dest, cfg)
	case strings.HasPrefix(dest, "http://"), strings.HasPrefix(dest, "https://"):
		return nil, fmt.Errorf("http destinations are read-only")
	case strings.HasPrefix(dest, "file://"):
		return os.Create(strings.TrimPrefix(dest, "file://"))
	default:
		return os.Create(dest)
	}
}

func openArchiveReader(ctx context.Context, src string, cfg *S3Config) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(src, "s3://"):
		return openS3Reader(ctx, src, cfg)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return openHTTPReader(ctx, src)
	case strings.HasPrefix(src, "file://"):
		return os.Open(strings.TrimPrefix(src, "file://"))
	default:
		return os.Open(src)
	}
}

func openHTTPReader(ctx context.Context, url string) (io.ReadCloser, error) {
	client := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch archive: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func parseS3URL(url string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", url)
	}
	return parts[0], parts[1], nil
}

func s3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg != nil && cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg != nil && cfg.AccessKey != "" && cfg.SecretKey != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg != nil && cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // S3-compatible services
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

func openS3Reader(ctx context.Context, url string, cfg *S3Config) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}
	client, err := s3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object: %w", err)
	}
	return resp.Body, nil
}

// s3Writer buffers the archive and uploads it on Close; S3 needs the full
// body for a single PutObject.
type s3Writer struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	buffer []byte
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("archive writer is closed")
	}
	w.buffer = append(w.buffer, p...)
	return len(p), nil
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key),
		Body:   strings.NewReader(string(w.buffer)),
	})
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	return nil
}

func openS3Writer(ctx context.Context, url string, cfg *S3Config) (io.WriteCloser, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}
	client, err := s3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &s3Writer{ctx: ctx, client: client, bucket: bucket, key: key}, nil
}
