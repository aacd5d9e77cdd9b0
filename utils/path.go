package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

func FileExist(path string) bool {
	_, err := os.Lstat(path)
	return !os.IsNotExist(err)
}

// GetFilePath search the specified file in the following directories:
//  0. if absolute, return directly
//  1. Same folder with exec file
//  2. Same folder of the source file, 用于 go test等情况
//  3. Same folder of working folder
//
// returns "" if not found.
func GetFilePath(fileName string) string {
	if fileName == "" {
		return ""
	}
	if filepath.IsAbs(fileName) {
		return fileName
	}

	if execFile, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(execFile), fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, srcFile, _, ok := runtime.Caller(0); ok {
		p := filepath.Join(filepath.Dir(srcFile), fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if workingDir, err := os.Getwd(); err == nil {
		p := filepath.Join(workingDir, fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// WriteFileAtomic 先写临时文件再 rename, 避免写到一半时进程退出留下残缺文件.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
