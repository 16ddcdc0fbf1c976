// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fs adapts EdenMount's inode model to the jacobsa/fuse kernel
// protocol: every fuseops.*Op handler below does name resolution, state
// translation and locking, and delegates the actual work to the mount,
// inode, overlay and checkout packages.
package fs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/edenfs-go/edenfs/inode"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/mount"
)

// ServerConfig bundles everything needed to export an EdenMount over FUSE.
type ServerConfig struct {
	Mount *mount.EdenMount
	Uid   uint32
	Gid   uint32

	Logger *slog.Logger
}

// NewServer builds a fuse.Server that answers kernel requests against cfg.Mount.
func NewServer(cfg *ServerConfig) (fuse.Server, error) {
	if cfg.Mount == nil {
		return nil, errors.New("fs: nil mount")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fs := &fileSystem{
		mnt:    cfg.Mount,
		uid:    cfg.Uid,
		gid:    cfg.Gid,
		logger: logger,
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
	}
	return fuseutil.NewFileSystemServer(fs), nil
}

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	mnt    *mount.EdenMount
	uid    uint32
	gid    uint32
	logger *slog.Logger

	handleMu    sync.Mutex
	nextHandle  fuseops.HandleID
	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
}

func (fs *fileSystem) allocHandle() fuseops.HandleID {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	fs.nextHandle++
	return fs.nextHandle
}

func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, inode.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, inode.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, inode.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, inode.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, inode.ErrNotEmpty):
		return syscall.ENOTEMPTY
	default:
		return err
	}
}

func (fs *fileSystem) lookUpInode(ctx context.Context, parent fuseops.InodeID, name string) (fuseops.InodeID, fuseops.InodeAttributes, error) {
	parentObj, ok := fs.mnt.Inodes().LookupInode(toModelIno(parent))
	if !ok {
		return 0, fuseops.InodeAttributes{}, syscall.ENOENT
	}
	tree, ok := parentObj.(*inode.TreeInode)
	if !ok {
		return 0, fuseops.InodeAttributes{}, syscall.ENOTDIR
	}

	e, err := tree.Lookup(ctx, name)
	if err != nil {
		return 0, fuseops.InodeAttributes{}, toErrno(err)
	}

	child, err := tree.GetOrLoadChild(ctx, name)
	if err != nil {
		return 0, fuseops.InodeAttributes{}, toErrno(err)
	}

	return toFuseIno(child.Number()), fs.attributesOf(ctx, child, e.Mode), nil
}

func (fs *fileSystem) attributesOf(ctx context.Context, obj inode.Inode, mode uint32) fuseops.InodeAttributes {
	attr := fuseops.InodeAttributes{
		Uid:   fs.uid,
		Gid:   fs.gid,
		Mode:  os.FileMode(mode),
		Nlink: 1,
	}
	now := time.Now()
	attr.Atime, attr.Mtime, attr.Ctime, attr.Crtime = now, now, now, now

	switch v := obj.(type) {
	case *inode.FileInode:
		attr.Size = uint64(v.Size(ctx))
	case *inode.TreeInode:
		attr.Mode |= os.ModeDir
		attr.Nlink = 2
	}
	return attr
}

func (fs *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 4096
	op.Blocks = 1 << 30
	op.BlocksFree = 1 << 30
	op.BlocksAvailable = 1 << 30
	op.Inodes = 1 << 30
	op.InodesFree = 1 << 30
	return nil
}

func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	ino, attr, err := fs.lookUpInode(ctx, op.Parent, op.Name)
	if err != nil {
		return err
	}
	op.Entry.Child = ino
	op.Entry.Attributes = attr
	fs.mnt.Inodes().IncLookup(toModelIno(ino), 1)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	obj, ok := fs.mnt.Inodes().LookupInode(toModelIno(op.Inode))
	if !ok {
		return syscall.ENOENT
	}
	var mode uint32 = 0644
	if _, isDir := obj.(*inode.TreeInode); isDir {
		mode = 0755
	}
	op.Attributes = fs.attributesOf(ctx, obj, mode)
	return nil
}

func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	obj, ok := fs.mnt.Inodes().LookupInode(toModelIno(op.Inode))
	if !ok {
		return syscall.ENOENT
	}
	if f, isFile := obj.(*inode.FileInode); isFile && op.Size != nil {
		if err := f.SetSize(ctx, int64(*op.Size)); err != nil {
			return toErrno(err)
		}
	}
	op.Attributes = fs.attributesOf(ctx, obj, 0644)
	return nil
}

func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mnt.Inodes().Forget(toModelIno(op.Inode), op.N)
	return nil
}

func (fs *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parent, ok := fs.asTree(op.Parent)
	if !ok {
		return syscall.ENOTDIR
	}
	child, err := parent.Mkdir(ctx, op.Name, uint32(op.Mode), nil)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = toFuseIno(child.Number())
	op.Entry.Attributes = fs.attributesOf(ctx, child, uint32(op.Mode))
	fs.mnt.Inodes().IncLookup(child.Number(), 1)
	return nil
}

func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parent, ok := fs.asTree(op.Parent)
	if !ok {
		return syscall.ENOTDIR
	}
	child, err := parent.Create(ctx, op.Name, uint32(op.Mode), nil, nil)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = toFuseIno(child.Number())
	op.Entry.Attributes = fs.attributesOf(ctx, child, uint32(op.Mode))
	fs.mnt.Inodes().IncLookup(child.Number(), 1)

	op.Handle = fs.allocHandle()
	fs.handleMu.Lock()
	fs.fileHandles[op.Handle] = &fileHandle{file: child}
	fs.handleMu.Unlock()
	return nil
}

func (fs *fileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	parent, ok := fs.asTree(op.Parent)
	if !ok {
		return syscall.ENOTDIR
	}
	child, err := parent.Symlink(ctx, op.Name, op.Target, nil)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = toFuseIno(child.Number())
	op.Entry.Attributes = fs.attributesOf(ctx, child, 0777)
	fs.mnt.Inodes().IncLookup(child.Number(), 1)
	return nil
}

func (fs *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, ok := fs.asTree(op.Parent)
	if !ok {
		return syscall.ENOTDIR
	}
	_, err := parent.Rmdir(ctx, op.Name)
	return toErrno(err)
}

func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, ok := fs.asTree(op.Parent)
	if !ok {
		return syscall.ENOTDIR
	}
	_, err := parent.Unlink(ctx, op.Name)
	return toErrno(err)
}

func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, ok := fs.asTree(op.OldParent)
	if !ok {
		return syscall.ENOTDIR
	}
	newParent, ok := fs.asTree(op.NewParent)
	if !ok {
		return syscall.ENOTDIR
	}
	return toErrno(oldParent.Rename(ctx, op.OldName, newParent, op.NewName))
}

func (fs *fileSystem) asTree(id fuseops.InodeID) (*inode.TreeInode, bool) {
	obj, ok := fs.mnt.Inodes().LookupInode(toModelIno(id))
	if !ok {
		return nil, false
	}
	t, ok := obj.(*inode.TreeInode)
	return t, ok
}

func (fs *fileSystem) asFile(id fuseops.InodeID) (*inode.FileInode, bool) {
	obj, ok := fs.mnt.Inodes().LookupInode(toModelIno(id))
	if !ok {
		return nil, false
	}
	f, ok := obj.(*inode.FileInode)
	return f, ok
}

func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	tree, ok := fs.asTree(op.Inode)
	if !ok {
		return syscall.ENOTDIR
	}
	op.Handle = fs.allocHandle()
	fs.handleMu.Lock()
	fs.dirHandles[op.Handle] = newDirHandle(tree)
	fs.handleMu.Unlock()
	return nil
}

func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.handleMu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	data, err := dh.readAt(ctx, op.Offset, len(op.Dst))
	if err != nil {
		return err
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.handleMu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.handleMu.Unlock()
	return nil
}

func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	f, ok := fs.asFile(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	op.Handle = fs.allocHandle()
	fs.handleMu.Lock()
	fs.fileHandles[op.Handle] = &fileHandle{file: f}
	fs.handleMu.Unlock()
	return nil
}

func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.handleMu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	n, err := fh.file.Read(ctx, op.Offset, op.Dst)
	op.BytesRead = n
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.handleMu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	_, err := fh.file.Write(ctx, op.Offset, op.Data, nil)
	return toErrno(err)
}

func (fs *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.handleMu.Lock()
	delete(fs.fileHandles, op.Handle)
	fs.handleMu.Unlock()
	return nil
}

func (fs *fileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	f, ok := fs.asFile(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	target, err := f.ReadLink(ctx)
	if err != nil {
		return toErrno(err)
	}
	op.Target = target
	return nil
}

func (fs *fileSystem) Destroy() {
	fs.logger.Info("fs: destroy")
}

func toModelIno(id fuseops.InodeID) model.InodeNumber { return model.InodeNumber(id) }
func toFuseIno(n model.InodeNumber) fuseops.InodeID   { return fuseops.InodeID(n) }
