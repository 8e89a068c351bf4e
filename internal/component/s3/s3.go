// Package s3 reads and writes objects in Amazon S3 or any S3 compatible store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/poll"
)

const Scheme = "aws2-s3"

const (
	HeaderKey                 = "CamelAwsS3Key"
	HeaderBucketName          = "CamelAwsS3BucketName"
	HeaderContentType         = "CamelAwsS3ContentType"
	HeaderContentLength       = "CamelAwsS3ContentLength"
	HeaderETag                = "CamelAwsS3ETag"
	HeaderLastModified        = "CamelAwsS3LastModified"
	HeaderVersionID           = "CamelAwsS3VersionId"
	HeaderOperation           = "CamelAwsS3Operation"
	HeaderPrefix              = "CamelAwsS3Prefix"
	HeaderDestinationBucket   = "CamelAwsS3BucketDestinationName"
	HeaderDestinationKey      = "CamelAwsS3DestinationKey"
	HeaderDownloadLinkExpires = "CamelAwsS3DownloadLinkExpirationTime"
)

const (
	OpPutObject          = "putObject"
	OpGetObject          = "getObject"
	OpListObjects        = "listObjects"
	OpDeleteObject       = "deleteObject"
	OpListBuckets        = "listBuckets"
	OpCreateBucket       = "createBucket"
	OpDeleteBucket       = "deleteBucket"
	OpHeadObject         = "headObject"
	OpCopyObject         = "copyObject"
	OpCreateDownloadLink = "createDownloadLink"
)

// ErrNotFound is wrapped by errors for missing buckets and objects.
var ErrNotFound = errors.New("not found")

// Client is the subset of *s3.Client used by endpoints.
type Client interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	ListBuckets(ctx context.Context, in *awss3.ListBucketsInput, optFns ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error)
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, in *awss3.DeleteBucketInput, optFns ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error)
}

// Presigner creates presigned download links.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Credentials are the connection defaults shared by every endpoint.
type Credentials struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Endpoint     string
	UsePathStyle bool
}

type Config struct {
	core.PollOptions `uri:",squash"`

	Operation string `uri:"operation" validate:"oneof=putObject getObject listObjects deleteObject listBuckets createBucket deleteBucket headObject copyObject createDownloadLink"`
	KeyName   string `uri:"keyName"`
	Prefix    string `uri:"prefix"`
	Delimiter string `uri:"delimiter"`

	Region              string `uri:"region"`
	AccessKey           string `uri:"accessKey"`
	SecretKey           string `uri:"secretKey"`
	URIEndpointOverride string `uri:"uriEndpointOverride"`
	ForcePathStyle      bool   `uri:"forcePathStyle"`

	AutoCreateBucket  bool   `uri:"autoCreateBucket"`
	DestinationBucket string `uri:"destinationBucket"`
	ContentType       string `uri:"contentType"`
	// DownloadLinkExpiration is the lifetime of links made by createDownloadLink.
	DownloadLinkExpiration time.Duration `uri:"downloadLinkExpirationTime" validate:"gte=0"`

	DeleteAfterRead    bool  `uri:"deleteAfterRead"`
	IncludeBody        bool  `uri:"includeBody"`
	MaxMessagesPerPoll int32 `uri:"maxMessagesPerPoll" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		PollOptions:            core.DefaultPollOptions(),
		Operation:              OpPutObject,
		DownloadLinkExpiration: time.Hour,
		DeleteAfterRead:        true,
		IncludeBody:            true,
		MaxMessagesPerPoll:     10,
	}
}

type Option func(*Component)

func WithCredentials(creds Credentials) Option {
	return func(c *Component) {
		c.defaults = creds
	}
}

// WithClient makes every endpoint use client instead of building one from
// its configuration.
func WithClient(client Client, presigner Presigner) Option {
	return func(c *Component) {
		c.client = client
		c.presigner = presigner
	}
}

type Component struct {
	defaults  Credentials
	client    Client
	presigner Presigner
	logger    *logger.CanonicalLogger
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		defaults: Credentials{Region: "us-east-1"},
		logger:   log.Component(Scheme),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	bucket := strings.TrimPrefix(remaining, "arn:aws:s3:::")
	cfg := DefaultConfig()
	cfg.Region = c.defaults.Region
	cfg.AccessKey = c.defaults.AccessKey
	cfg.SecretKey = c.defaults.SecretKey
	cfg.URIEndpointOverride = c.defaults.Endpoint
	cfg.ForcePathStyle = c.defaults.UsePathStyle
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	if bucket == "" && cfg.Operation != OpListBuckets {
		return nil, core.NewResolveEndpointError(uri, "aws2-s3 endpoint requires a bucket name", nil)
	}

	e := &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		bucket:       bucket,
		cfg:          cfg,
		client:       c.client,
		presigner:    c.presigner,
		component:    c,
	}
	if e.client == nil {
		client, err := newClient(cfg)
		if err != nil {
			return nil, core.NewResolveEndpointError(uri, "cannot create s3 client", err)
		}
		e.client = client
		e.presigner = awss3.NewPresignClient(client)
	}
	return e, nil
}

func newClient(cfg Config) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.URIEndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.URIEndpointOverride)
		}
	}), nil
}

type Endpoint struct {
	core.EndpointBase
	bucket    string
	cfg       Config
	client    Client
	presigner Presigner
	component *Component

	bucketOnce sync.Once
	bucketErr  error
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor core.Processor) (core.Consumer, error) {
	if e.bucket == "" {
		return nil, core.NewResolveEndpointError(e.URI(), "aws2-s3 consumer requires a bucket name", nil)
	}
	return &consumer{endpoint: e, processor: processor, seen: make(map[string]string)}, nil
}

// ensureBucket creates the bucket once when autoCreateBucket is set.
func (e *Endpoint) ensureBucket(ctx context.Context) error {
	if !e.cfg.AutoCreateBucket || e.bucket == "" {
		return nil
	}
	e.bucketOnce.Do(func() {
		_, err := e.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(e.bucket)})
		if err == nil {
			return
		}
		if !errors.Is(mapError(err), ErrNotFound) {
			e.bucketErr = fmt.Errorf("failed to check bucket %s: %w", e.bucket, err)
			return
		}
		e.component.logger.Info("creating bucket", logger.String("bucket", e.bucket))
		if err := e.createBucket(ctx, e.bucket); err != nil {
			e.bucketErr = err
		}
	})
	return e.bucketErr
}

func (e *Endpoint) createBucket(ctx context.Context, bucket string) error {
	in := &awss3.CreateBucketInput{Bucket: aws.String(bucket)}
	if e.cfg.Region != "" && e.cfg.Region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(e.cfg.Region),
		}
	}
	_, err := e.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// mapError marks missing buckets and keys with ErrNotFound, which is not retried.
func mapError(err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return core.Invalid(fmt.Errorf("%w: %w", ErrNotFound, err))
	}
	return err
}

// Object describes one listed object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"lastModified"`
}

func objectFrom(o types.Object) Object {
	return Object{
		Key:          aws.ToString(o.Key),
		Size:         aws.ToInt64(o.Size),
		ETag:         aws.ToString(o.ETag),
		LastModified: aws.ToTime(o.LastModified),
	}
}

type producer struct {
	endpoint *Endpoint
}

func (p *producer) Start(ctx context.Context) error {
	return p.endpoint.ensureBucket(ctx)
}

func (p *producer) Stop(context.Context) error {
	return nil
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	e := p.endpoint
	if err := e.ensureBucket(ctx); err != nil {
		return err
	}

	op := e.cfg.Operation
	if h := ex.Message.HeaderString(HeaderOperation); h != "" {
		op = h
	}
	bucket := e.bucket
	if h := ex.Message.HeaderString(HeaderBucketName); h != "" {
		bucket = h
	}

	var err error
	switch op {
	case OpPutObject:
		err = p.putObject(ctx, bucket, ex.Message)
	case OpGetObject:
		err = p.getObject(ctx, bucket, ex.Message)
	case OpListObjects:
		err = p.listObjects(ctx, bucket, ex.Message)
	case OpDeleteObject:
		err = p.deleteObject(ctx, bucket, ex.Message)
	case OpListBuckets:
		err = p.listBuckets(ctx, ex.Message)
	case OpCreateBucket:
		err = e.createBucket(ctx, bucket)
	case OpDeleteBucket:
		_, err = e.client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			err = fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
		}
	case OpHeadObject:
		err = p.headObject(ctx, bucket, ex.Message)
	case OpCopyObject:
		err = p.copyObject(ctx, bucket, ex.Message)
	case OpCreateDownloadLink:
		err = p.createDownloadLink(ctx, bucket, ex.Message)
	default:
		return core.Invalidf("unsupported aws2-s3 operation %q", op)
	}
	return mapError(err)
}

func (p *producer) key(msg *core.Message) (string, error) {
	if k := msg.HeaderString(HeaderKey); k != "" {
		return k, nil
	}
	if p.endpoint.cfg.KeyName != "" {
		return p.endpoint.cfg.KeyName, nil
	}
	return "", core.Invalidf("no object key, set header %s or option keyName", HeaderKey)
}

func (p *producer) putObject(ctx context.Context, bucket string, msg *core.Message) error {
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	data, err := msg.BodyBytes()
	if err != nil {
		return core.Invalid(err)
	}

	in := &awss3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	contentType := msg.HeaderString(HeaderContentType)
	if contentType == "" {
		contentType = p.endpoint.cfg.ContentType
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := p.endpoint.client.PutObject(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	msg.SetHeader(HeaderETag, aws.ToString(out.ETag))
	if out.VersionId != nil {
		msg.SetHeader(HeaderVersionID, aws.ToString(out.VersionId))
	}
	return nil
}

func (p *producer) getObject(ctx context.Context, bucket string, msg *core.Message) error {
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	out, err := p.endpoint.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	msg.Body = data
	setObjectHeaders(msg, bucket, key, out.ContentType, out.ContentLength, out.ETag, out.LastModified)
	return nil
}

func setObjectHeaders(msg *core.Message, bucket, key string, contentType *string, length *int64, etag *string, modified *time.Time) {
	msg.SetHeader(HeaderBucketName, bucket)
	msg.SetHeader(HeaderKey, key)
	if contentType != nil {
		msg.SetHeader(HeaderContentType, aws.ToString(contentType))
	}
	if length != nil {
		msg.SetHeader(HeaderContentLength, aws.ToInt64(length))
	}
	if etag != nil {
		msg.SetHeader(HeaderETag, aws.ToString(etag))
	}
	if modified != nil {
		msg.SetHeader(HeaderLastModified, aws.ToTime(modified))
	}
}

func (p *producer) listObjects(ctx context.Context, bucket string, msg *core.Message) error {
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	prefix := msg.HeaderString(HeaderPrefix)
	if prefix == "" {
		prefix = p.endpoint.cfg.Prefix
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if d := p.endpoint.cfg.Delimiter; d != "" {
		in.Delimiter = aws.String(d)
	}

	objects := []Object{}
	pages := awss3.NewListObjectsV2Paginator(p.endpoint.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", bucket, err)
		}
		for _, o := range page.Contents {
			objects = append(objects, objectFrom(o))
		}
	}
	msg.Body = objects
	return nil
}

func (p *producer) deleteObject(ctx context.Context, bucket string, msg *core.Message) error {
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	if _, err := p.endpoint.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (p *producer) listBuckets(ctx context.Context, msg *core.Message) error {
	out, err := p.endpoint.client.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	msg.Body = names
	return nil
}

func (p *producer) headObject(ctx context.Context, bucket string, msg *core.Message) error {
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	out, err := p.endpoint.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err)
	}
	setObjectHeaders(msg, bucket, key, out.ContentType, out.ContentLength, out.ETag, out.LastModified)
	msg.Body = Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}
	return nil
}

func (p *producer) copyObject(ctx context.Context, bucket string, msg *core.Message) error {
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	destBucket := msg.HeaderString(HeaderDestinationBucket)
	if destBucket == "" {
		destBucket = p.endpoint.cfg.DestinationBucket
	}
	destKey := msg.HeaderString(HeaderDestinationKey)
	if destBucket == "" || destKey == "" {
		return core.Invalidf("copyObject requires headers %s and %s", HeaderDestinationBucket, HeaderDestinationKey)
	}

	out, err := p.endpoint.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(destBucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(url.PathEscape(bucket) + "/" + url.PathEscape(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", bucket, key, destBucket, destKey, err)
	}
	if out.CopyObjectResult != nil {
		msg.SetHeader(HeaderETag, aws.ToString(out.CopyObjectResult.ETag))
	}
	return nil
}

func (p *producer) createDownloadLink(ctx context.Context, bucket string, msg *core.Message) error {
	if p.endpoint.presigner == nil {
		return core.Invalidf("no presigner configured for %s", core.SanitizeURI(p.endpoint.URI()))
	}
	key, err := p.key(msg)
	if err != nil {
		return err
	}
	expires := p.endpoint.cfg.DownloadLinkExpiration
	if ms := msg.HeaderInt(HeaderDownloadLinkExpires, 0); ms > 0 {
		expires = time.Duration(ms) * time.Millisecond
	}
	req, err := p.endpoint.presigner.PresignGetObject(ctx,
		&awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		awss3.WithPresignExpires(expires))
	if err != nil {
		return fmt.Errorf("failed to presign %s/%s: %w", bucket, key, err)
	}
	msg.Body = req.URL
	return nil
}

type consumer struct {
	endpoint  *Endpoint
	processor core.Processor

	mu     sync.Mutex
	poller poll.Poller

	// seen maps keys to the ETag already consumed when deleteAfterRead is off.
	seenMu sync.Mutex
	seen   map[string]string
	// next resumes the listing where the previous poll stopped.
	next *string
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return nil
	}
	e := c.endpoint
	if err := e.ensureBucket(ctx); err != nil {
		return err
	}
	p := poll.NewPoller("aws2-s3:"+e.bucket, e.cfg.Config(), c.poll,
		poll.WithLogger(e.component.logger),
		poll.WithIdleFunc(func(ctx context.Context) error {
			return c.processor.Process(ctx, core.NewExchange(core.InOnly))
		}),
	)
	if err := p.Start(ctx); err != nil {
		return err
	}
	c.poller = p
	return nil
}

func (c *consumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller == nil {
		return nil
	}
	err := c.poller.Stop()
	c.poller = nil
	return err
}

func (c *consumer) poll(ctx context.Context) (int, error) {
	e := c.endpoint
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(e.bucket)}
	if e.cfg.Prefix != "" {
		in.Prefix = aws.String(e.cfg.Prefix)
	}
	if e.cfg.MaxMessagesPerPoll > 0 {
		in.MaxKeys = aws.Int32(e.cfg.MaxMessagesPerPoll)
	}
	c.seenMu.Lock()
	in.ContinuationToken = c.next
	c.seenMu.Unlock()

	out, err := e.client.ListObjectsV2(ctx, in)
	if err != nil {
		err = fmt.Errorf("failed to list objects in %s: %w", e.bucket, err)
		core.ReportConsumerError(ctx, c.processor, err)
		return 0, err
	}

	c.seenMu.Lock()
	c.next = nil
	if aws.ToBool(out.IsTruncated) {
		c.next = out.NextContinuationToken
	}
	c.seenMu.Unlock()

	var objects []types.Object
	for _, o := range out.Contents {
		if strings.HasSuffix(aws.ToString(o.Key), "/") {
			continue
		}
		if !e.cfg.DeleteAfterRead {
			c.seenMu.Lock()
			etag, ok := c.seen[aws.ToString(o.Key)]
			c.seenMu.Unlock()
			if ok && etag == aws.ToString(o.ETag) {
				continue
			}
		}
		objects = append(objects, o)
	}

	for i, o := range objects {
		if ctx.Err() != nil {
			return i, nil
		}
		c.consume(ctx, o, i, len(objects))
	}
	return len(objects), nil
}

func (c *consumer) consume(ctx context.Context, o types.Object, index, size int) {
	e := c.endpoint
	key := aws.ToString(o.Key)
	log := e.component.logger.With(logger.String("bucket", e.bucket), logger.String("key", key))

	ex := core.NewExchange(core.InOnly)
	ex.FromEndpoint = e.URI()
	msg := ex.Message
	if e.cfg.IncludeBody {
		out, err := e.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(e.bucket), Key: o.Key})
		if err != nil {
			log.WithError(err).Warn("cannot get object, skipping")
			return
		}
		data, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			log.WithError(err).Warn("cannot read object, skipping")
			return
		}
		msg.Body = data
		setObjectHeaders(msg, e.bucket, key, out.ContentType, out.ContentLength, out.ETag, out.LastModified)
	} else {
		setObjectHeaders(msg, e.bucket, key, nil, o.Size, o.ETag, o.LastModified)
	}
	ex.SetProperty(core.PropertyBatchIndex, index)
	ex.SetProperty(core.PropertyBatchSize, size)
	ex.SetProperty(core.PropertyBatchComplete, index == size-1)

	if err := c.processor.Process(ctx, ex); err != nil {
		return
	}
	if !e.cfg.DeleteAfterRead {
		c.seenMu.Lock()
		c.seen[key] = aws.ToString(o.ETag)
		c.seenMu.Unlock()
		return
	}
	if _, err := e.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(e.bucket), Key: o.Key}); err != nil {
		log.WithError(err).Error("failed to delete consumed object")
	}
}
