package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	_ "github.com/viant/afsc/s3"
)

var FileSystem = afs.New()

func ReadFileBytes(filename string) ([]byte, error) {
	f, err := FileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	defer func(f io.Closer) {
		err = errors.Join(err, CloseFile(f))
	}(f)

	outBytes, readErr := io.ReadAll(f)
	if readErr != nil {
		return nil, readErr
	}
	return outBytes, err
}

func CloseFile(f io.Closer) error {
	return f.Close()
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// PathJoinSafe wrapper around filepath.Join to ensure that paths are correctly constructed
// if the path is a normal OS path, just use filepath.Join
// if the path is S3, trim any trailing slashes and construct it manually from the components
// so that double slashes (e.g. s3://) are preserved.
func PathJoinSafe(elem ...string) string {
	var path string

	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		path = basePath + string(filepath.Separator) + filepath.Join(elem[1:]...)
	default:
		path = filepath.Join(elem...)
	}
	return path
}

func FileExists(filename string) (bool, error) {
	return FileSystem.Exists(context.Background(), filename)
}

func WriteFileBytes(filename string, data []byte) error {
	return FileSystem.Upload(context.Background(), filename, file.DefaultFileOsMode, bytes.NewReader(data))
}

// ArchiveDirectory zips the contents of srcDir into destZip through the afs
// zip scheme. destZip must end with ".zip". An existing archive at destZip is
// replaced.
func ArchiveDirectory(ctx context.Context, srcDir string, destZip string) error {
	if filepath.Ext(destZip) != ".zip" {
		return fmt.Errorf("archive destination %s must have a .zip extension", destZip)
	}
	exists, err := FileSystem.Exists(ctx, destZip)
	if err != nil {
		return err
	}
	if exists {
		if err := FileSystem.Delete(ctx, destZip); err != nil {
			return err
		}
	}
	return FileSystem.Copy(ctx, srcDir, "file:"+destZip+"/zip")
}
