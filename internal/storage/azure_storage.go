package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "go-symmetry-console/internal/errors"
)

// BlobImageFetcher downloads result images hosted on Azure Blob Storage with a
// shared key, for deployments where the service stores images in a private container.
type BlobImageFetcher struct {
	client  *azblob.Client
	account string
}

// NewBlobImageFetcher creates a fetcher for the given storage account
func NewBlobImageFetcher(accountName, accountKey string) (*BlobImageFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}

	return &BlobImageFetcher{client: client, account: accountName}, nil
}

// Handles reports whether blobURL points into this fetcher's account
func (b *BlobImageFetcher) Handles(blobURL string) bool {
	u, err := url.Parse(blobURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), b.account+".blob.core.windows.net")
}

// FetchImage downloads the blob addressed by blobURL
func (b *BlobImageFetcher) FetchImage(ctx context.Context, blobURL string) (*Image, error) {
	containerName, blobName, err := parseBlobURL(blobURL)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "invalid blob URL", err)
	}

	resp, err := b.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return nil, apperrors.NewRemoteError(respErr.StatusCode, fmt.Sprintf("blob download failed: %s", respErr.ErrorCode))
		}
		return nil, classify(err)
	}
	defer resp.Body.Close()

	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return readImage(resp.Body, contentType)
}

// parseBlobURL splits https://account.blob.core.windows.net/container/path/to/blob
func parseBlobURL(blobURL string) (string, string, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", "", err
	}
	path := strings.TrimPrefix(u.Path, "/")
	containerName, blobName, ok := strings.Cut(path, "/")
	if !ok || containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("blob URL %q must name a container and a blob", blobURL)
	}
	return containerName, blobName, nil
}

// RoutingFetcher sends blob URLs of the configured account to Azure and
// everything else over HTTP
type RoutingFetcher struct {
	http *HTTPImageFetcher
	blob *BlobImageFetcher
}

// NewRoutingFetcher combines the fetchers; blob may be nil
func NewRoutingFetcher(httpFetcher *HTTPImageFetcher, blob *BlobImageFetcher) *RoutingFetcher {
	return &RoutingFetcher{http: httpFetcher, blob: blob}
}

// FetchImage implements ImageFetcher
func (r *RoutingFetcher) FetchImage(ctx context.Context, imageURL string) (*Image, error) {
	if r.blob != nil && r.blob.Handles(imageURL) {
		return r.blob.FetchImage(ctx, imageURL)
	}
	return r.http.FetchImage(ctx, imageURL)
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.NewTimeoutError("image download timed out", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewCanceledError("image download canceled", err)
	default:
		return apperrors.NewNetworkError("image host unreachable", err)
	}
}
