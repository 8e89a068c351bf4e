// Package minio stores and fetches objects on a MinIO server.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "minio"

const (
	HeaderObjectName            = "CamelMinioObjectName"
	HeaderBucketName            = "CamelMinioBucketName"
	HeaderDestinationBucketName = "CamelMinioDestinationBucketName"
	HeaderDestinationObjectName = "CamelMinioDestinationObjectName"
	HeaderContentType           = "CamelMinioContentType"
	HeaderContentLength         = "CamelMinioContentLength"
	HeaderETag                  = "CamelMinioETag"
	HeaderLastModified          = "CamelMinioLastModified"
	HeaderVersionID             = "CamelMinioVersionId"
	HeaderOperation             = "CamelMinioOperation"
	HeaderPrefix                = "CamelMinioPrefix"
	HeaderPresignedExpiration   = "CamelMinioPresignedURLExpirationTime"
)

const (
	OpPutObject          = "putObject"
	OpGetObject          = "getObject"
	OpListObjects        = "listObjects"
	OpDeleteObject       = "deleteObject"
	OpListBuckets        = "listBuckets"
	OpMakeBucket         = "makeBucket"
	OpDeleteBucket       = "deleteBucket"
	OpStatObject         = "statObject"
	OpCopyObject         = "copyObject"
	OpCreateDownloadLink = "createDownloadLink"
)

var ErrNotFound = errors.New("not found")

// Client is the part of the minio client used by endpoints. GetObject
// returns the object metadata with the reader so fakes need not build a
// *minio.Object.
type Client interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	RemoveBucket(ctx context.Context, bucket string) error
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params map[string][]string) (string, error)
}

type sdkClient struct {
	*minio.Client
}

func (c sdkClient) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, error) {
	obj, err := c.Client.GetObject(ctx, bucket, object, opts)
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, minio.ObjectInfo{}, err
	}
	return obj, info, nil
}

func (c sdkClient) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params map[string][]string) (string, error) {
	u, err := c.Client.PresignedGetObject(ctx, bucket, object, expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Server is the connection default shared by endpoints.
type Server struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

type Config struct {
	Operation string `uri:"operation" validate:"oneof=putObject getObject listObjects deleteObject listBuckets makeBucket deleteBucket statObject copyObject createDownloadLink"`

	Endpoint  string `uri:"endpoint"`
	AccessKey string `uri:"accessKey"`
	SecretKey string `uri:"secretKey"`
	Region    string `uri:"region"`
	Secure    bool   `uri:"secure"`

	AutoCreateBucket      bool          `uri:"autoCreateBucket"`
	ObjectName            string        `uri:"objectName"`
	Prefix                string        `uri:"prefix"`
	Recursive             bool          `uri:"recursive"`
	ContentType           string        `uri:"contentType"`
	DestinationBucketName string        `uri:"destinationBucketName"`
	PresignedExpiration   time.Duration `uri:"presignedUrlExpirationTime" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Operation:           OpPutObject,
		AutoCreateBucket:    true,
		Recursive:           true,
		PresignedExpiration: time.Hour,
	}
}

type Option func(*Component)

func WithServer(s Server) Option {
	return func(c *Component) {
		c.defaults = s
	}
}

func WithClient(client Client) Option {
	return func(c *Component) {
		c.client = client
	}
}

// Component reuses one client per server and credentials.
type Component struct {
	defaults Server
	client   Client
	logger   *logger.CanonicalLogger

	mu      sync.Mutex
	clients map[Server]Client
}

func New(log *logger.CanonicalLogger, opts ...Option) *Component {
	c := &Component{
		defaults: Server{Endpoint: "localhost:9000"},
		logger:   log.Component(Scheme),
		clients:  make(map[Server]Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	cfg := DefaultConfig()
	cfg.Endpoint = c.defaults.Endpoint
	cfg.AccessKey = c.defaults.AccessKey
	cfg.SecretKey = c.defaults.SecretKey
	cfg.Region = c.defaults.Region
	cfg.Secure = c.defaults.Secure
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	if remaining == "" && cfg.Operation != OpListBuckets {
		return nil, core.NewResolveEndpointError(uri, "minio endpoint requires a bucket name", nil)
	}

	client, err := c.clientFor(Server{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		Secure:    cfg.Secure,
	})
	if err != nil {
		return nil, core.NewResolveEndpointError(uri, "cannot create minio client", err)
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		bucket:       remaining,
		cfg:          cfg,
		client:       client,
		component:    c,
	}, nil
}

func (c *Component) clientFor(s Server) (Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[s]; ok {
		return client, nil
	}
	mc, err := minio.New(s.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
		Secure: s.Secure,
		Region: s.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	client := sdkClient{Client: mc}
	c.clients[s] = client
	return client, nil
}

type Endpoint struct {
	core.EndpointBase
	bucket    string
	cfg       Config
	client    Client
	component *Component

	bucketMu    sync.Mutex
	bucketReady bool
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return &producer{endpoint: e}, nil
}

// ensureBucket makes the bucket when autoCreateBucket is set. A failed
// attempt is retried on the next call.
func (e *Endpoint) ensureBucket(ctx context.Context) error {
	if !e.cfg.AutoCreateBucket || e.bucket == "" {
		return nil
	}
	e.bucketMu.Lock()
	defer e.bucketMu.Unlock()
	if e.bucketReady {
		return nil
	}
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", e.bucket, err)
	}
	if !exists {
		e.component.logger.Info("creating bucket", logger.String("bucket", e.bucket))
		if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{Region: e.cfg.Region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", e.bucket, err)
		}
	}
	e.bucketReady = true
	return nil
}

// mapError marks missing buckets and objects as not found, which is not retried.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return err
	}
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.StatusCode == http.StatusNotFound:
		return core.Invalid(fmt.Errorf("%w: %w", ErrNotFound, err))
	}
	return err
}

// Object describes one listed object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
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
	msg := ex.Message

	op := e.cfg.Operation
	if h := msg.HeaderString(HeaderOperation); h != "" {
		op = h
	}
	bucket := e.bucket
	if h := msg.HeaderString(HeaderBucketName); h != "" {
		bucket = h
	}

	var err error
	switch op {
	case OpPutObject:
		err = p.putObject(ctx, bucket, msg)
	case OpGetObject:
		err = p.getObject(ctx, bucket, msg)
	case OpListObjects:
		err = p.listObjects(ctx, bucket, msg)
	case OpDeleteObject:
		err = p.withObject(msg, func(object string) error {
			return e.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
		})
	case OpListBuckets:
		err = p.listBuckets(ctx, msg)
	case OpMakeBucket:
		if err = e.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: e.cfg.Region}); err != nil {
			err = fmt.Errorf("failed to make bucket %s: %w", bucket, err)
		}
	case OpDeleteBucket:
		if err = e.client.RemoveBucket(ctx, bucket); err != nil {
			err = fmt.Errorf("failed to remove bucket %s: %w", bucket, err)
		}
	case OpStatObject:
		err = p.withObject(msg, func(object string) error {
			info, err := e.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
			if err != nil {
				return err
			}
			setObjectHeaders(msg, bucket, info)
			msg.Body = objectFrom(info)
			return nil
		})
	case OpCopyObject:
		err = p.copyObject(ctx, bucket, msg)
	case OpCreateDownloadLink:
		err = p.withObject(msg, func(object string) error {
			expiry := e.cfg.PresignedExpiration
			if ms := msg.HeaderInt(HeaderPresignedExpiration, 0); ms > 0 {
				expiry = time.Duration(ms) * time.Millisecond
			}
			link, err := e.client.PresignedGetObject(ctx, bucket, object, expiry, nil)
			if err != nil {
				return err
			}
			msg.Body = link
			return nil
		})
	default:
		return core.Invalidf("unsupported minio operation %q", op)
	}
	return mapError(err)
}

func (p *producer) objectName(msg *core.Message) (string, error) {
	if n := msg.HeaderString(HeaderObjectName); n != "" {
		return n, nil
	}
	if p.endpoint.cfg.ObjectName != "" {
		return p.endpoint.cfg.ObjectName, nil
	}
	return "", core.Invalidf("no object name, set header %s or option objectName", HeaderObjectName)
}

func (p *producer) withObject(msg *core.Message, fn func(object string) error) error {
	object, err := p.objectName(msg)
	if err != nil {
		return err
	}
	if err := fn(object); err != nil {
		return fmt.Errorf("minio operation on %s failed: %w", object, err)
	}
	return nil
}

func (p *producer) putObject(ctx context.Context, bucket string, msg *core.Message) error {
	object, err := p.objectName(msg)
	if err != nil {
		return err
	}
	body, size, err := msg.BodyReader()
	if err != nil {
		return core.Invalid(err)
	}
	opts := minio.PutObjectOptions{ContentType: msg.HeaderString(HeaderContentType)}
	if opts.ContentType == "" {
		opts.ContentType = p.endpoint.cfg.ContentType
	}

	info, err := p.endpoint.client.PutObject(ctx, bucket, object, body, size, opts)
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, object, err)
	}
	msg.SetHeader(HeaderETag, info.ETag)
	if info.VersionID != "" {
		msg.SetHeader(HeaderVersionID, info.VersionID)
	}
	return nil
}

func (p *producer) getObject(ctx context.Context, bucket string, msg *core.Message) error {
	object, err := p.objectName(msg)
	if err != nil {
		return err
	}
	r, info, err := p.endpoint.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object %s/%s: %w", bucket, object, err)
	}
	msg.Body = data
	setObjectHeaders(msg, bucket, info)
	return nil
}

func setObjectHeaders(msg *core.Message, bucket string, info minio.ObjectInfo) {
	msg.SetHeader(HeaderBucketName, bucket)
	msg.SetHeader(HeaderObjectName, info.Key)
	msg.SetHeader(HeaderContentLength, info.Size)
	msg.SetHeader(HeaderETag, info.ETag)
	if info.ContentType != "" {
		msg.SetHeader(HeaderContentType, info.ContentType)
	}
	if !info.LastModified.IsZero() {
		msg.SetHeader(HeaderLastModified, info.LastModified)
	}
}

func objectFrom(info minio.ObjectInfo) Object {
	return Object{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func (p *producer) listObjects(ctx context.Context, bucket string, msg *core.Message) error {
	prefix := msg.HeaderString(HeaderPrefix)
	if prefix == "" {
		prefix = p.endpoint.cfg.Prefix
	}
	objects := []Object{}
	for info := range p.endpoint.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: p.endpoint.cfg.Recursive,
	}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", bucket, info.Err)
		}
		objects = append(objects, objectFrom(info))
	}
	msg.Body = objects
	return nil
}

func (p *producer) listBuckets(ctx context.Context, msg *core.Message) error {
	buckets, err := p.endpoint.client.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	msg.Body = names
	return nil
}

func (p *producer) copyObject(ctx context.Context, bucket string, msg *core.Message) error {
	object, err := p.objectName(msg)
	if err != nil {
		return err
	}
	destBucket := msg.HeaderString(HeaderDestinationBucketName)
	if destBucket == "" {
		destBucket = p.endpoint.cfg.DestinationBucketName
	}
	destObject := msg.HeaderString(HeaderDestinationObjectName)
	if destObject == "" {
		destObject = object
	}
	if destBucket == "" {
		return core.Invalidf("copyObject requires header %s or option destinationBucketName", HeaderDestinationBucketName)
	}

	info, err := p.endpoint.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: destBucket, Object: destObject},
		minio.CopySrcOptions{Bucket: bucket, Object: object})
	if err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", bucket, object, destBucket, destObject, err)
	}
	msg.SetHeader(HeaderETag, info.ETag)
	return nil
}
