package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// s3Backend downloads s3:// URLs via aws-sdk-go, the downloading scheme's
// SDK named in the domain stack.
type s3Backend struct{}

func newS3Backend() *s3Backend { return &s3Backend{} }

func (b *s3Backend) Fetch(ctx context.Context, rawURL, destPath string, headers map[string]string) (int64, error) {
	bucket, key, region, err := parseS3URL(rawURL)
	if err != nil {
		return 0, err
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return 0, cmn.NewErr(cmn.KindInternal, 0, "s3 session: %v", err)
	}

	tmp := cos.TempName(destPath)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return 0, err
	}
	downloader := s3manager.NewDownloader(sess)
	n, err := downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return 0, cmn.NewErr(cmn.KindTransient, 0, "s3 fetch %s: %v", rawURL, err)
	}
	if err := cos.FlushClose(f); err != nil {
		_ = cos.RemoveFile(tmp)
		return 0, err
	}
	if err := cos.CommitRename(tmp, destPath); err != nil {
		return 0, err
	}
	return n, nil
}

// parseS3URL accepts s3://bucket/key, with an optional ?region= query
// parameter carrying an explicit region (default us-east-1), since plain S3
// URLs don't.
func parseS3URL(raw string) (bucket, key, region string, err error) {
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", "", "", cmn.NewErr(cmn.KindInvalidInput, 0, "invalid s3 url %q: %v", raw, perr)
	}
	region = u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", "", cmn.NewErr(cmn.KindInvalidInput, 0, "s3 url %q missing bucket or key", raw)
	}
	return bucket, key, region, nil
}
