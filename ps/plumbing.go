package ps

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/sql"
)

// nowFunc is the clock; swapped out in tests.
var nowFunc = time.Now

func sum(prefix string, body []byte) core.Hash {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", prefix, len(body))
	h.Write(body)
	return core.Hash(hex.EncodeToString(h.Sum(nil)))
}

// StoreBlob normalizes definition text and stores it content-addressed.
// Two definitions differing only in whitespace, casing or comments share one
// blob. Idempotent.
func (p *Persistence) StoreBlob(definition string) (core.Hash, error) {
	normalized := []byte(sql.Normalize(definition))
	hash := sum("blob", normalized)
	if err := p.store.PutBlob(hash, normalized); err != nil {
		return core.ZeroHash, fmt.Errorf("store blob %s: %w", hash.Short(), err)
	}
	return hash, nil
}

// GetBlob returns the normalized definition stored under hash.
func (p *Persistence) GetBlob(hash core.Hash) (string, error) {
	content, ok, err := p.store.GetBlob(hash)
	if err != nil {
		return "", fmt.Errorf("get blob %s: %w", hash.Short(), err)
	}
	if !ok {
		return "", fmt.Errorf("blob %s: %w", hash.Short(), core.ErrObjectNotFound)
	}
	return string(content), nil
}

func encodeTree(entries []core.TreeEntry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s\n", e.Kind, e.Blob, e.Path)
	}
	return b.Bytes()
}

// BuildTree canonicalizes entries (sorted by path) and stores the tree.
// The hash depends only on the entry set, never on supply order. Entries
// must carry distinct paths and non-zero blob hashes.
func (p *Persistence) BuildTree(entries []core.TreeEntry) (core.Tree, error) {
	sorted := make([]core.TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for i, e := range sorted {
		if e.Blob.IsZero() {
			return core.Tree{}, fmt.Errorf("tree entry %q has no blob", e.Path)
		}
		if strings.ContainsAny(e.Path, "\n") || e.Path == "" {
			return core.Tree{}, fmt.Errorf("invalid tree entry path %q", e.Path)
		}
		if i > 0 && sorted[i-1].Path == e.Path {
			return core.Tree{}, fmt.Errorf("duplicate tree entry path %q", e.Path)
		}
	}

	encoded := encodeTree(sorted)
	hash := sum("tree", encoded)
	if err := p.store.PutTree(hash, encoded); err != nil {
		return core.Tree{}, fmt.Errorf("store tree %s: %w", hash.Short(), err)
	}
	return core.Tree{Hash: hash, Entries: sorted}, nil
}

// GetTree loads and decodes the tree stored under hash.
func (p *Persistence) GetTree(hash core.Hash) (core.Tree, error) {
	encoded, ok, err := p.store.GetTree(hash)
	if err != nil {
		return core.Tree{}, fmt.Errorf("get tree %s: %w", hash.Short(), err)
	}
	if !ok {
		return core.Tree{}, fmt.Errorf("tree %s: %w", hash.Short(), core.ErrObjectNotFound)
	}

	tree := core.Tree{Hash: hash}
	scanner := bufio.NewScanner(bytes.NewReader(encoded))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return core.Tree{}, fmt.Errorf("tree %s: malformed entry %q", hash.Short(), line)
		}
		tree.Entries = append(tree.Entries, core.TreeEntry{
			Kind: core.ObjectKind(parts[0]),
			Blob: core.Hash(parts[1]),
			Path: parts[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return core.Tree{}, fmt.Errorf("tree %s: %w", hash.Short(), err)
	}
	return tree, nil
}

// commitIdentity is the hashed portion of a commit: tree, parents, author
// and message. The timestamp is recorded metadata and deliberately excluded,
// so replaying the same logical commit yields the same hash.
func commitIdentity(tree core.Hash, parents []core.Hash, author, message string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "tree %s\n", tree)
	for _, parent := range parents {
		fmt.Fprintf(&b, "parent %s\n", parent)
	}
	fmt.Fprintf(&b, "author %s\n\n%s", author, message)
	return b.Bytes()
}

func encodeCommit(c core.Commit) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "tree %s\n", c.Tree)
	for _, parent := range c.Parents {
		fmt.Fprintf(&b, "parent %s\n", parent)
	}
	fmt.Fprintf(&b, "author %s\n", c.Author)
	fmt.Fprintf(&b, "when %s\n", c.When.UTC().Format(time.RFC3339Nano))
	keys := make([]string, 0, len(c.Meta))
	for k := range c.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "meta %s=%s\n", k, c.Meta[k])
	}
	fmt.Fprintf(&b, "\n%s", c.Message)
	return b.Bytes()
}

func decodeCommit(hash core.Hash, encoded []byte) (core.Commit, error) {
	commit := core.Commit{Hash: hash}
	header, message, found := bytes.Cut(encoded, []byte("\n\n"))
	if !found {
		return core.Commit{}, fmt.Errorf("commit %s: missing header separator", hash.Short())
	}
	commit.Message = string(message)

	for _, line := range strings.Split(string(header), "\n") {
		field, value, ok := strings.Cut(line, " ")
		if !ok {
			return core.Commit{}, fmt.Errorf("commit %s: malformed header %q", hash.Short(), line)
		}
		switch field {
		case "tree":
			commit.Tree = core.Hash(value)
		case "parent":
			commit.Parents = append(commit.Parents, core.Hash(value))
		case "author":
			commit.Author = value
		case "when":
			when, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return core.Commit{}, fmt.Errorf("commit %s: bad timestamp: %w", hash.Short(), err)
			}
			commit.When = when
		case "meta":
			k, v, _ := strings.Cut(value, "=")
			if commit.Meta == nil {
				commit.Meta = make(map[string]string)
			}
			commit.Meta[k] = v
		default:
			return core.Commit{}, fmt.Errorf("commit %s: unknown header %q", hash.Short(), field)
		}
	}
	return commit, nil
}

// CreateCommit stores a commit over tree with the given parents. The hash
// covers (tree, parents, author, message) only; when an identical commit
// already exists the stored record wins and its original timestamp is kept.
// CreateCommit does not move any branch head.
func (p *Persistence) CreateCommit(tree core.Hash, parents []core.Hash, author core.Identity, message string, meta map[string]string) (core.Commit, error) {
	if len(parents) > 2 {
		return core.Commit{}, fmt.Errorf("commit cannot have %d parents", len(parents))
	}
	if _, err := p.GetTree(tree); err != nil {
		return core.Commit{}, fmt.Errorf("commit tree: %w", err)
	}
	for _, parent := range parents {
		if _, err := p.GetCommit(parent); err != nil {
			return core.Commit{}, fmt.Errorf("commit parent: %w", err)
		}
	}

	hash := sum("commit", commitIdentity(tree, parents, author.String(), message))
	if existing, err := p.GetCommit(hash); err == nil {
		return existing, nil // idempotent replay, first write wins
	}

	commit := core.Commit{
		Hash:    hash,
		Tree:    tree,
		Parents: parents,
		Author:  author.String(),
		Message: message,
		When:    nowFunc().UTC(),
		Meta:    meta,
	}
	if err := p.store.PutCommit(hash, encodeCommit(commit)); err != nil {
		return core.Commit{}, fmt.Errorf("store commit %s: %w", hash.Short(), err)
	}
	return commit, nil
}

// RestoreCommit stores a commit record exactly as previously exported,
// keeping its recorded timestamp. The carried hash must match the commit's
// identity; parents and tree must already be stored.
func (p *Persistence) RestoreCommit(commit core.Commit) error {
	want := sum("commit", commitIdentity(commit.Tree, commit.Parents, commit.Author, commit.Message))
	if commit.Hash != want {
		return fmt.Errorf("commit %s fails identity verification", commit.Hash.Short())
	}
	if _, err := p.GetTree(commit.Tree); err != nil {
		return fmt.Errorf("restore commit %s: %w", commit.Hash.Short(), err)
	}
	for _, parent := range commit.Parents {
		if _, err := p.GetCommit(parent); err != nil {
			return fmt.Errorf("restore commit %s: %w", commit.Hash.Short(), err)
		}
	}
	if err := p.store.PutCommit(commit.Hash, encodeCommit(commit)); err != nil {
		return fmt.Errorf("restore commit %s: %w", commit.Hash.Short(), err)
	}
	return nil
}

// GetCommit loads and decodes the commit stored under hash.
func (p *Persistence) GetCommit(hash core.Hash) (core.Commit, error) {
	encoded, ok, err := p.store.GetCommit(hash)
	if err != nil {
		return core.Commit{}, fmt.Errorf("get commit %s: %w", hash.Short(), err)
	}
	if !ok {
		return core.Commit{}, fmt.Errorf("commit %s: %w", hash.Short(), core.ErrCommitNotFound)
	}
	return decodeCommit(hash, encoded)
}
