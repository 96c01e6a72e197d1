// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package registry

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/DCSO/dropwatch/records"

	"github.com/vimeo/go-magic/magic"
	"golang.org/x/crypto/sha3"
)

var magicFiles map[string]bool
var mutex sync.Mutex

func init() {
	magicFiles = make(map[string]bool)
}

// AddMagicFile adds a libmagic database to be loaded in addition to the
// system default.
func AddMagicFile(path string) {
	mutex.Lock()
	magicFiles[path] = true
	mutex.Unlock()
}

// CalculateBasicHashes uses a multiWriter to calculate all archive hashes
// in a single pass.
// REF: http://marcio.io/2015/07/calculating-multiple-file-hashes-in-a-single-pass/
func CalculateBasicHashes(rd io.Reader) (records.HashInfo, error) {
	var info records.HashInfo

	md5Hash := md5.New()
	sha1Hash := sha1.New()
	sha256Hash := sha256.New()
	sha512Hash := sha512.New()
	sha3_512Hash := sha3.New512()

	reader := bufio.NewReaderSize(rd, os.Getpagesize())
	multiWriter := io.MultiWriter(md5Hash, sha1Hash, sha256Hash, sha512Hash, sha3_512Hash)

	_, err := io.Copy(multiWriter, reader)
	if err != nil {
		return info, err
	}

	info.Md5 = hex.EncodeToString(md5Hash.Sum(nil))
	info.Sha1 = hex.EncodeToString(sha1Hash.Sum(nil))
	info.Sha256 = hex.EncodeToString(sha256Hash.Sum(nil))
	info.Sha512 = hex.EncodeToString(sha512Hash.Sum(nil))
	info.Sha3_512 = hex.EncodeToString(sha3_512Hash.Sum(nil))

	return info, nil
}

// MagicFromFile returns a magic string for the file in the given path.
func MagicFromFile(path string) string {
	cookie := magic.Open(magic.MAGIC_ERROR | magic.MAGIC_NONE)
	defer magic.Close(cookie)
	mutex.Lock()
	var mf []string
	for f := range magicFiles {
		mf = append(mf, f)
	}
	mutex.Unlock()
	ret := magic.Load(cookie, strings.Join(mf, ":"))
	if ret != 0 {
		return "unknown file type"
	}
	r := magic.File(cookie, path)
	return r
}
