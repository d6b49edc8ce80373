package ps

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v6"
	gitconfig "github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	githttp "github.com/go-git/go-git/v6/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v6/plumbing/transport/ssh"

	"github.com/evoludigit/pggit/core"
)

// AuthType selects how mirror pushes authenticate.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds credentials for pushing a mirror to a remote.
type RemoteAuth struct {
	Type       AuthType
	Token      string
	KeyPath    string
	Passphrase string
	Username   string
	Password   string
}

func (auth *RemoteAuth) method() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}
	switch auth.Type {
	case AuthTypeNone:
		return nil, nil
	case AuthTypeToken:
		// Token auth uses username "git" or any non-empty string.
		return &githttp.BasicAuth{Username: "git", Password: auth.Token}, nil
	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			home, _ := os.UserHomeDir()
			keyPath = home + "/.ssh/id_rsa"
		}
		return gitssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
	case AuthTypeBasic:
		return &githttp.BasicAuth{Username: auth.Username, Password: auth.Password}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

// Mirror exports the engine's history into a bare git repository, one .sql
// file per tracked object, so any git tooling can browse schema history.
// The export is one-way; the git repository is a rendering, never a source
// of truth.
type Mirror struct {
	p    *Persistence
	repo *git.Repository

	// commits maps engine commit hashes to their git counterparts. Engine
	// commit hashes exclude timestamps, so the mapping is not 1:1 with what
	// git would compute; it is rebuilt per Mirror.
	commits map[core.Hash]plumbing.Hash
}

// NewMirror initializes (or reopens) a bare git repository at dir.
func (p *Persistence) NewMirror(dir string) (*Mirror, error) {
	repo, err := git.PlainInit(dir, true)
	if err == git.ErrTargetDirNotEmpty {
		repo, err = git.PlainOpen(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("init mirror at %q: %w", dir, err)
	}
	return &Mirror{p: p, repo: repo, commits: make(map[core.Hash]plumbing.Hash)}, nil
}

// ExportBranch renders one branch's full history into the mirror and points
// refs/heads/<name> at the result.
func (m *Mirror) ExportBranch(ctx context.Context, name string) error {
	branch, err := m.p.GetBranch(name)
	if err != nil {
		return err
	}
	if branch.Head.IsZero() {
		return nil
	}

	head, err := m.exportCommit(ctx, branch.Head)
	if err != nil {
		return fmt.Errorf("mirror branch %q: %w", name, err)
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head)
	if err := m.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("mirror branch %q: set ref: %w", name, err)
	}
	return nil
}

// ExportAll renders every branch.
func (m *Mirror) ExportAll(ctx context.Context) error {
	branches, err := m.p.ListBranches()
	if err != nil {
		return err
	}
	for _, b := range branches {
		if err := m.ExportBranch(ctx, b.Name); err != nil {
			return err
		}
	}
	return nil
}

// Push sends one branch ref to a remote URL using an anonymous remote.
func (m *Mirror) Push(ctx context.Context, url, branch string, auth *RemoteAuth) error {
	method, err := auth.method()
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = m.repo.PushContext(ctx, &git.PushOptions{
		RemoteURL: url,
		RefSpecs:  []gitconfig.RefSpec{refSpec},
		Auth:      method,
	})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if err != nil {
		return fmt.Errorf("push %q to %q: %w", branch, url, err)
	}
	return nil
}

// exportCommit renders a commit and its full ancestry, parents first.
func (m *Mirror) exportCommit(ctx context.Context, from core.Hash) (plumbing.Hash, error) {
	// Depth-first with an explicit stack; a commit is rendered once all of
	// its parents are.
	stack := []core.Hash{from}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return plumbing.ZeroHash, err
		}
		hash := stack[len(stack)-1]
		if _, done := m.commits[hash]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		commit, err := m.p.GetCommit(hash)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		ready := true
		for _, parent := range commit.Parents {
			if _, done := m.commits[parent]; !done {
				stack = append(stack, parent)
				ready = false
			}
		}
		if !ready {
			continue
		}
		stack = stack[:len(stack)-1]

		gitHash, err := m.renderCommit(commit)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		m.commits[hash] = gitHash
	}
	return m.commits[from], nil
}

func (m *Mirror) renderCommit(commit core.Commit) (plumbing.Hash, error) {
	tree, err := m.p.GetTree(commit.Tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	treeHash, err := m.renderTree(tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	name, email := splitIdentity(commit.Author)
	sig := object.Signature{Name: name, Email: email, When: commit.When}
	gitCommit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   commit.Message,
		TreeHash:  treeHash,
	}
	for _, parent := range commit.Parents {
		gitCommit.ParentHashes = append(gitCommit.ParentHashes, m.commits[parent])
	}

	obj := m.repo.Storer.NewEncodedObject()
	if err := gitCommit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	return m.repo.Storer.SetEncodedObject(obj)
}

// renderTree writes one blob per tracked object, named <path>.sql, and the
// tree that holds them. Entries arrive sorted by path, which matches git's
// tree ordering for flat names.
func (m *Mirror) renderTree(tree core.Tree) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	for _, e := range tree.Entries {
		definition, err := m.p.GetBlob(e.Blob)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		blobHash, err := m.renderBlob([]byte(definition + "\n"))
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{
			Name: e.Path + ".sql",
			Mode: filemode.Regular,
			Hash: blobHash,
		})
	}

	gitTree := &object.Tree{Entries: entries}
	obj := m.repo.Storer.NewEncodedObject()
	if err := gitTree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return m.repo.Storer.SetEncodedObject(obj)
}

func (m *Mirror) renderBlob(data []byte) (plumbing.Hash, error) {
	obj := m.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("blob writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	writer.Close()
	return m.repo.Storer.SetEncodedObject(obj)
}

func splitIdentity(author string) (name, email string) {
	if i := strings.IndexByte(author, '<'); i >= 0 {
		name = strings.TrimSpace(author[:i])
		email = strings.TrimSuffix(author[i+1:], ">")
		return name, email
	}
	return author, ""
}
