package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// S3SegmentStore кладет сегменты в бакет с включенным Object Lock (WORM):
// объект нельзя изменить или удалить до истечения retention_until.
// PutObject в S3 атомарен, частично видимых объектов не бывает; роль
// stage-then-commit здесь играет условная запись If-None-Match.
type S3SegmentStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3SegmentStore(ctx context.Context, bucket, prefix, region string) (*S3SegmentStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3 segment store: load aws config: %w", err)
	}
	return &S3SegmentStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

func (s *S3SegmentStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3SegmentStore) Commit(ctx context.Context, seg *domain.LedgerSegment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("s3 segment store: marshal: %w", err)
	}

	name := SegmentName(seg.Header.FirstSequence)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),

		// Ретеншен фиксируется в момент коммита
		ObjectLockMode:            types.ObjectLockModeCompliance,
		ObjectLockRetainUntilDate: aws.Time(seg.Header.RetentionUntil),

		// Условная запись: существующий объект не перетирается
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "PreconditionFailed") {
			return fmt.Errorf("%w: %s", domain.ErrSegmentExists, name)
		}
		return fmt.Errorf("s3 segment store: put %s: %w", name, err)
	}
	return nil
}

func (s *S3SegmentStore) List(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key("segment-")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 segment store: list: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			if strings.HasSuffix(key, ".json") {
				names = append(names, key)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3SegmentStore) Load(ctx context.Context, name string) (*domain.LedgerSegment, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 segment store: get %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 segment store: read %s: %w", name, err)
	}
	var seg domain.LedgerSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("s3 segment store: decode %s: %w", name, err)
	}
	return &seg, nil
}
