package observation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/depth-layer/dataprocess"
)

// FilePublisher saves every published observation as a binary PCD file in a directory.
type FilePublisher struct {
	dir    string
	logger logging.Logger
}

// NewFilePublisher returns a publisher writing into dir, which must exist.
func NewFilePublisher(dir string, logger logging.Logger) *FilePublisher {
	return &FilePublisher{dir: dir, logger: logger}
}

// Publish writes obj to <dir>/<channel>_data_<stamp>.pcd.
func (fp *FilePublisher) Publish(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error {
	if obj == nil {
		return errors.New("nothing to publish")
	}
	filename := dataprocess.CreateTimestampFilename(fp.dir, channel, dataprocess.PCDFileType, stamp)
	if err := dataprocess.WriteBytesToFile(obj.GetPointCloud(), filename); err != nil {
		return err
	}
	fp.logger.Debugf("published %s observation to %s", channel, filename)
	return nil
}
