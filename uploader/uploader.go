// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package uploader offloads ingested drops to an S3 bucket, optionally age
// encrypted, before they are removed from the drop directory.
package uploader

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"time"

	"github.com/DCSO/dropwatch/submitter"

	"filippo.io/age"
	"github.com/minio/minio-go"
	log "github.com/sirupsen/logrus"
)

// S3Credentials represents a set of data required to access an S3 resource.
type S3Credentials struct {
	Endpoint        string
	AccessKey       string
	SecretAccessKey string
	BucketName      string
	Region          string
}

// Manifest describes an offloaded drop. It is stored next to the object
// and submitted once the upload is complete.
type Manifest struct {
	BatchID        string    `json:"upload_id"`
	Filename       string    `json:"filename"`
	Sha256         string    `json:"sha256"`
	Status         string    `json:"status"`
	Size           int64     `json:"size"`
	Encrypted      bool      `json:"encrypted"`
	QueuedAt       time.Time `json:"queued_at"`
	Uploaded       bool      `json:"uploaded"`
	UploadLocation string    `json:"upload_location,omitempty"`
}

// ObjectName returns the S3 object name of the drop.
func (m Manifest) ObjectName() string {
	if m.Encrypted {
		return m.Sha256 + ".age"
	}
	return m.Sha256
}

// UploadJob contains all data required to locate a file to be uploaded and its metadata.
type UploadJob struct {
	manifest          Manifest
	localFilePath     string
	localManifestPath string
}

// Uploader is a component that facilitates the queued upload of drops to a
// S3 endpoint.
type Uploader struct {
	// Creds contains the required credentials for the S3 connection.
	Creds S3Credentials
	// UseSSL is true if SSL should be used for upload.
	UseSSL bool
	// Where the uploader queues files ready for upload.
	ScratchDir string
	// Recipient encrypts queued drops if set.
	Recipient age.Recipient
	// InChan is the channel to enqueue files for upload.
	InChan chan UploadJob
	// CloseChan is used to signal uploader shutdown.
	ClosedChan chan bool
	// Client is a Minio client connecting to the given endpoint.
	Client *minio.Client
	// Submitter is used to send manifests after upload
	Submitter submitter.Submitter
}

// ParseRecipient parses an age X25519 public key ("age1...").
func ParseRecipient(key string) (age.Recipient, error) {
	r, err := age.ParseX25519Recipient(key)
	if err != nil {
		return nil, fmt.Errorf("invalid age public key: %w", err)
	}
	return r, nil
}

func (u *Uploader) copyToScratch(localpath, destPath string) (int64, error) {
	srcFile, err := os.Open(localpath)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer destFile.Close()

	var w io.Writer = destFile
	var enc io.WriteCloser
	if u.Recipient != nil {
		enc, err = age.Encrypt(destFile, u.Recipient)
		if err != nil {
			return 0, err
		}
		w = enc
	}
	n, err := io.Copy(w, srcFile)
	if err != nil {
		return 0, err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return 0, err
		}
	}
	return n, destFile.Sync()
}

// Enqueue copies the drop at localpath into the scratch directory and
// queues it for upload. The copy survives restarts until uploaded.
func (u *Uploader) Enqueue(m Manifest, localpath string) error {
	m.Encrypted = u.Recipient != nil
	m.QueuedAt = time.Now().UTC()

	destPath := path.Join(u.ScratchDir, m.ObjectName())
	size, err := u.copyToScratch(localpath, destPath)
	if err != nil {
		os.Remove(destPath)
		return err
	}
	m.Size = size

	manifestPath := path.Join(u.ScratchDir, fmt.Sprintf("%s.manifest.json", m.Sha256))
	outJSON, err := json.Marshal(m)
	if err != nil {
		return err
	}
	err = os.WriteFile(manifestPath, outJSON, 0644)
	if err != nil {
		return err
	}

	u.InChan <- UploadJob{
		manifest:          m,
		localFilePath:     destPath,
		localManifestPath: manifestPath,
	}
	return nil
}

func (u *Uploader) processUpload() {
	for job := range u.InChan {
		objectName := job.manifest.ObjectName()
		manifestName := fmt.Sprintf("%s.manifest.json", job.manifest.Sha256)

		log.Debugf("bucket %s object '%s' localpath %s", u.Creds.BucketName, objectName,
			job.localFilePath)
		size, err := u.Client.FPutObject(u.Creds.BucketName, objectName,
			job.localFilePath, minio.PutObjectOptions{
				ContentType: "application/octet-stream",
			})
		if err != nil {
			log.Errorf("upload of %s failed: %s ", objectName, err)
			continue
		}
		log.Infof("successfully uploaded %s (size %d)", objectName, size)

		job.manifest.Uploaded = true
		job.manifest.UploadLocation = fmt.Sprintf("%s/%s/%s", u.Creds.Endpoint, u.Creds.BucketName, objectName)
		manifestJSON, err := json.Marshal(job.manifest)
		if err != nil {
			log.Error(err)
			continue
		}
		if err = os.WriteFile(job.localManifestPath, manifestJSON, 0644); err != nil {
			log.Error(err)
			continue
		}

		size, err = u.Client.FPutObject(u.Creds.BucketName, manifestName,
			job.localManifestPath, minio.PutObjectOptions{
				ContentType: "application/json",
			})
		if err != nil {
			log.Errorf("upload of %s failed: %s ", manifestName, err)
			continue
		}
		log.Infof("successfully uploaded %s (size %d)", manifestName, size)
		for _, p := range []string{job.localFilePath, job.localManifestPath} {
			if err = os.Remove(p); err != nil {
				log.Errorf("could not remove uploaded file %s: %s", p, err)
			}
		}

		if u.Submitter != nil {
			u.Submitter.Submit(manifestJSON)
		}
	}
	close(u.ClosedChan)
}

var manifestReg = regexp.MustCompile(`.+\.manifest\.json$`)

func (u *Uploader) enqueueBacklog() error {
	files, err := os.ReadDir(u.ScratchDir)
	if err != nil {
		return err
	}

	for _, f := range files {
		if !manifestReg.MatchString(f.Name()) {
			continue
		}
		var m Manifest
		byteValue, err := os.ReadFile(path.Join(u.ScratchDir, f.Name()))
		if err != nil {
			return err
		}
		if err = json.Unmarshal(byteValue, &m); err != nil {
			return err
		}
		log.Debugf("enqueuing scratch file %s, %d bytes", m.ObjectName(), m.Size)
		u.InChan <- UploadJob{
			manifest:          m,
			localFilePath:     path.Join(u.ScratchDir, m.ObjectName()),
			localManifestPath: path.Join(u.ScratchDir, f.Name()),
		}
	}

	return nil
}

// MakeS3Uploader returns a new Uploader for the given credentials and environment settings.
// Drops are encrypted to recipient if it is not nil. If a submitter is given, the manifest
// of each uploaded drop is submitted as well.
func MakeS3Uploader(creds S3Credentials, ssl bool, scratchdir string, recipient age.Recipient,
	submitter submitter.Submitter) (*Uploader, error) {
	uploader := &Uploader{
		Creds:      creds,
		UseSSL:     ssl,
		ScratchDir: scratchdir,
		Recipient:  recipient,
		ClosedChan: make(chan bool),
		InChan:     make(chan UploadJob, 10000),
		Submitter:  submitter,
	}

	client, err := minio.NewWithRegion(creds.Endpoint, creds.AccessKey, creds.SecretAccessKey, ssl, creds.Region)
	if err != nil {
		return nil, err
	}
	uploader.Client = client

	err = uploader.enqueueBacklog()
	if err != nil {
		return nil, err
	}

	go uploader.processUpload()

	return uploader, nil
}

// Stop causes the uploader to cease processing enqueued files.
func (u *Uploader) Stop() {
	close(u.InChan)
	<-u.ClosedChan
}
