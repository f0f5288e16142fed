package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/auth"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/config"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
)

// Entity object metadata keys. S3 serves them back lowercased.
const (
	metaVersion   = "version"
	metaType      = "entity-type"
	metaUpdatedAt = "updated-at"
	metaDeletedAt = "deleted-at"
)

// s3API is the slice of the S3 client the adapter uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Adapter stores one JSON object per entity under
// <prefix>/owners/<owner>/entities/<id> and deletion records under
// <prefix>/owners/<owner>/tombstones/<id>. Every conditional write rides
// on the object ETag.
type S3Adapter struct {
	api         s3API
	bucket      string
	prefix      string
	concurrency int
	logger      logging.Logger
}

// NewS3Adapter builds the production adapter. Expiring credentials are
// pulled from the provider on every request so a refreshed credential
// takes effect without rebuilding the client; a credential without an
// expiry is pinned once.
func NewS3Adapter(ctx context.Context, cfg *config.Config, creds auth.Provider, logger logging.Logger) (*S3Adapter, error) {
	var credProvider aws.CredentialsProvider = aws.CredentialsProviderFunc(
		func(ctx context.Context) (aws.Credentials, error) {
			c, err := creds.Credential(ctx)
			if err != nil {
				return aws.Credentials{}, err
			}
			return aws.Credentials{
				AccessKeyID:     c.AccessKeyID,
				SecretAccessKey: c.SecretAccessKey,
				SessionToken:    c.SessionToken,
				CanExpire:       !c.Expiry.IsZero(),
				Expires:         c.Expiry,
			}, nil
		})
	if c, err := creds.Credential(ctx); err == nil && c.Expiry.IsZero() {
		credProvider = credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credProvider))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Adapter{
		api:         client,
		bucket:      cfg.S3Bucket,
		prefix:      cfg.S3Prefix,
		concurrency: cfg.TransferConcurrency,
		logger:      logger,
	}, nil
}

func (a *S3Adapter) entityKey(ownerId, id string) string {
	return path.Join(a.prefix, "owners", ownerId, "entities", id)
}

func (a *S3Adapter) tombstoneKey(ownerId, id string) string {
	return path.Join(a.prefix, "owners", ownerId, "tombstones", id)
}

func (a *S3Adapter) CheckHasData(ctx context.Context, ownerId string) (bool, int, error) {
	out, err := a.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.entityKey(ownerId, "") + "/"),
	})
	if err != nil {
		return false, 0, mapError(err)
	}
	// the first page is an approximation; an exact count would walk the
	// whole listing for no decision value
	count := int(aws.ToInt32(out.KeyCount))
	return count > 0, count, nil
}

func (a *S3Adapter) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := a.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, mapError(err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// ListRemote returns envelope metadata for every entity object of the
// owner. Object heads are fetched with bounded concurrency.
func (a *S3Adapter) ListRemote(ctx context.Context, ownerId string) ([]ObjectInfo, error) {
	keys, err := a.listKeys(ctx, a.entityKey(ownerId, "")+"/")
	if err != nil {
		return nil, err
	}

	infos := make([]ObjectInfo, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			head, err := a.api.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return mapError(err)
			}
			info, err := objectInfoFromHead(key, head)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func objectInfoFromHead(key string, head *s3.HeadObjectOutput) (ObjectInfo, error) {
	version, err := strconv.ParseInt(head.Metadata[metaVersion], 10, 64)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("object %s: bad version metadata %q: %w", key, head.Metadata[metaVersion], err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, head.Metadata[metaUpdatedAt])
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("object %s: bad updated-at metadata %q: %w", key, head.Metadata[metaUpdatedAt], err)
	}
	return ObjectInfo{
		Id:        path.Base(key),
		Type:      models.EntityType(head.Metadata[metaType]),
		Version:   version,
		UpdatedAt: updatedAt,
		Ref:       aws.ToString(head.ETag),
	}, nil
}

func (a *S3Adapter) Download(ctx context.Context, ownerId, id string) (*models.Entity, error) {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.entityKey(ownerId, id)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, mapError(err)
	}
	entity, err := models.UnmarshalWire(body)
	if err != nil {
		return nil, err
	}
	entity.RemoteRef = aws.ToString(out.ETag)
	return entity, nil
}

func (a *S3Adapter) Upload(ctx context.Context, entity *models.Entity, expect *Expectation) (UploadResult, error) {
	body, err := entity.MarshalWire()
	if err != nil {
		return UploadResult{}, err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.entityKey(entity.OwnerId, entity.Id)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			metaVersion:   strconv.FormatInt(entity.Version, 10),
			metaType:      string(entity.Type),
			metaUpdatedAt: entity.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if expect != nil {
		if expect.Create {
			input.IfNoneMatch = aws.String("*")
		} else {
			input.IfMatch = aws.String(expect.Ref)
		}
	}

	out, err := a.api.PutObject(ctx, input)
	if err != nil {
		return UploadResult{}, mapError(err)
	}
	return UploadResult{Ref: aws.ToString(out.ETag)}, nil
}

func (a *S3Adapter) Remove(ctx context.Context, ownerId, id string, expect *Expectation) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.entityKey(ownerId, id)),
	}
	if expect != nil && !expect.Create {
		input.IfMatch = aws.String(expect.Ref)
	}
	if _, err := a.api.DeleteObject(ctx, input); err != nil {
		err = mapError(err)
		// removing an already absent object is a success
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (a *S3Adapter) ListTombstones(ctx context.Context, ownerId string) ([]TombstoneInfo, error) {
	keys, err := a.listKeys(ctx, a.tombstoneKey(ownerId, "")+"/")
	if err != nil {
		return nil, err
	}

	infos := make([]TombstoneInfo, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			head, err := a.api.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return mapError(err)
			}
			deletedAt, err := time.Parse(time.RFC3339Nano, head.Metadata[metaDeletedAt])
			if err != nil {
				return fmt.Errorf("tombstone %s: bad deleted-at metadata %q: %w", key, head.Metadata[metaDeletedAt], err)
			}
			infos[i] = TombstoneInfo{
				Tombstone: models.Tombstone{
					EntityId:   path.Base(key),
					EntityType: models.EntityType(head.Metadata[metaType]),
					DeletedAt:  deletedAt,
				},
				Ref: aws.ToString(head.ETag),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// PutTombstone is idempotent: writing a tombstone that already exists
// keeps the existing record.
func (a *S3Adapter) PutTombstone(ctx context.Context, ownerId string, ts *models.Tombstone) error {
	body, err := tombstoneBody(ts)
	if err != nil {
		return err
	}
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.tombstoneKey(ownerId, ts.EntityId)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			metaType:      string(ts.EntityType),
			metaDeletedAt: ts.DeletedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, common.ErrVersionConflict) {
			return nil
		}
		return err
	}
	return nil
}

func (a *S3Adapter) RemoveTombstone(ctx context.Context, ownerId, entityId string) error {
	_, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.tombstoneKey(ownerId, entityId)),
	})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func tombstoneBody(ts *models.Tombstone) ([]byte, error) {
	return json.Marshal(ts)
}
