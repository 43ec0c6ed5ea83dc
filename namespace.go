//----------------------------------------------------------------------
// This file is part of ledlink.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// ledlink is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// ledlink is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package ledlink

import (
	"errors"
	"path"
	"strings"
	"sync/atomic"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot   = errors.New("no root directory")
	errNoFile   = errors.New("no such file or directory")
	errNoDir    = errors.New("not a directory")
	errNoAbs    = errors.New("no absolute path")
	errExists   = errors.New("file exists")
	errReadOnly = errors.New("write prohibited")
)

// open modes refused by the read-only tree
const (
	modeAccess = 3    // access bits of the open mode
	modeWrite  = 1    // OWRITE
	modeRdWr   = 2    // ORDWR
	modeTrunc  = 0x10 // OTRUNC
)

// File provides the content of a namespace file on every read.
type File interface {
	Read() ([]byte, error)
}

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system.
type Namespace struct {
	ninep.NopFS // use default handlers where needed

	user, group string
	nextID      atomic.Uint64     // next Qid.Path
	mu          rwMutex           // guards dict and children
	root        *Entry            // root directory
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
}

// NewNamespace creates a new filesystem (with root directory) for the given
// user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	ns.root = ns.newEntry("/", 0555, nil)
	ns.dict[ns.root.ref.Path] = ns.root
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextID.Add(1) - 1,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.root
}

// NewDir creates a directory at an absolute path.
func (ns *Namespace) NewDir(p string, perm uint32) error {
	return ns.add(p, perm, nil)
}

// NewFile creates a file at an absolute path.
func (ns *Namespace) NewFile(p string, perm uint32, impl File) error {
	if impl == nil {
		impl = Text("")
	}
	return ns.add(p, perm, impl)
}

func (ns *Namespace) add(p string, perm uint32, impl File) error {
	if !strings.HasPrefix(p, "/") {
		return errNoAbs
	}
	dir, name := path.Split(path.Clean(p))
	if name == "" {
		return errExists
	}
	parent, err := ns.Get(dir)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !parent.IsDir() {
		return errNoDir
	}
	if _, ok := parent.children[name]; ok {
		return errExists
	}
	e := ns.newEntry(name, perm, impl)
	parent.children[name] = e
	ns.dict[e.ref.Path] = e
	return nil
}

// Get entry with given path
func (ns *Namespace) Get(p string) (*Entry, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, errNoAbs
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	curr := ns.root
	for _, label := range strings.Split(p[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if !curr.IsDir() {
			return nil, errNoDir
		}
		e, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = e
	}
	return curr, nil
}

func (ns *Namespace) lookup(q *ninep.Qid) (*Entry, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.dict[q.Path]
	return e, ok
}

// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if ns.root == nil {
		t.Err(errNoRoot)
		return
	}
	t.Respond(&ns.root.ref.Qid)
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.lookup(cur)
	if !ok || !e.IsDir() {
		return nil
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for reading; write access is refused.
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	if m := t.Mode & modeAccess; m == modeWrite || m == modeRdWr || t.Mode&modeTrunc != 0 {
		t.Err(errReadOnly)
		return
	}
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.IsDir() {
		ns.mu.RLock()
		kids := make([]ninep.Dir, 0, len(e.children))
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ns.mu.RUnlock()
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.lookup(q)
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
