// Package dataprocess manages code related to saving observations to disk.
package dataprocess

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	pc "go.viam.com/rdk/pointcloud"
)

const (
	// TimeFormat is the timestamp format used in the dataprocess.
	TimeFormat = "2006-01-02T15:04:05.0000Z"
	// PCDFileType is the extension of saved point clouds.
	PCDFileType = ".pcd"
)

// CreateTimestampFilename creates an absolute filename with a channel name and timestamp written
// into the filename.
func CreateTimestampFilename(dataDirectory, channelName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, channelName+"_data_"+timeStamp.UTC().Format(TimeFormat)+fileType)
}

// WritePCDToFile encodes the pointcloud and then saves it to the passed filename.
func WritePCDToFile(pointcloud pc.PointCloud, filename string) error {
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, pc.PCDBinary); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return errors.Wrapf(err, "failed writing %s", filename)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
