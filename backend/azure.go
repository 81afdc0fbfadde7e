package backend

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// azureBackend downloads azure:// URLs via azure-storage-blob-go,
// authenticating anonymously (public container) unless the
// AZURE_STORAGE_ACCESS_KEY environment variable holds a valid shared key for
// the storage account named by the URL's host.
type azureBackend struct{}

func newAzureBackend() *azureBackend { return &azureBackend{} }

func (b *azureBackend) Fetch(ctx context.Context, rawURL, destPath string, headers map[string]string) (int64, error) {
	blobURL, err := resolveAzureBlobURL(rawURL)
	if err != nil {
		return 0, err
	}

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return 0, cmn.NewErr(cmn.KindTransient, 0, "azure fetch %s: %v", rawURL, err)
	}
	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	tmp := cos.TempName(destPath)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, body)
	if err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return 0, cmn.NewErr(cmn.KindTransient, 0, "azure fetch %s: %v", rawURL, err)
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

// resolveAzureBlobURL accepts azure://account/container/blob, building
// credentials from the environment when present, else an anonymous
// pipeline for public containers.
func resolveAzureBlobURL(rawURL string) (azblob.BlobURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return azblob.BlobURL{}, cmn.NewErr(cmn.KindInvalidInput, 0, "invalid azure url %q: %v", rawURL, err)
	}
	account := u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if account == "" || len(parts) != 2 {
		return azblob.BlobURL{}, cmn.NewErr(cmn.KindInvalidInput, 0, "azure url %q must be azure://account/container/blob", rawURL)
	}
	container, blob := parts[0], parts[1]

	cred, credErr := azblob.NewSharedKeyCredential(account, os.Getenv("AZURE_STORAGE_ACCESS_KEY"))
	var pl pipeline.Pipeline
	if credErr != nil || os.Getenv("AZURE_STORAGE_ACCESS_KEY") == "" {
		pl = azblob.NewPipeline(azblob.NewAnonymousCredential(), azblob.PipelineOptions{})
	} else {
		pl = azblob.NewPipeline(cred, azblob.PipelineOptions{})
	}

	service := azblob.NewServiceURL(
		url.URL{Scheme: "https", Host: account + ".blob.core.windows.net"},
		pl,
	)
	return service.NewContainerURL(container).NewBlobURL(blob), nil
}
