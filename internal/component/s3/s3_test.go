package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]object
	// pageSize limits ListObjectsV2 pages so pagination is exercised.
	pageSize int
}

func newFake(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: make(map[string]map[string]object), pageSize: 2}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]object)
	}
	return f
}

func etag(data []byte) string {
	return fmt.Sprintf(`"%x"`, md5.Sum(data))
}

func (f *fakeS3) bucket(name *string) (map[string]object, error) {
	b, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return b, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	data, _ := io.ReadAll(in.Body)
	b[aws.ToString(in.Key)] = object{data: data, contentType: aws.ToString(in.ContentType), modified: time.Now()}
	return &awss3.PutObjectOutput{ETag: aws.String(etag(data))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	o, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.data)),
		ContentType:   aws.String(o.contentType),
		ContentLength: aws.Int64(int64(len(o.data))),
		ETag:          aws.String(etag(o.data)),
		LastModified:  aws.Time(o.modified),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	o, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &awss3.HeadObjectOutput{
		ContentType:   aws.String(o.contentType),
		ContentLength: aws.Int64(int64(len(o.data))),
		ETag:          aws.String(etag(o.data)),
		LastModified:  aws.Time(o.modified),
	}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	srcBucket, srcKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	src, err := f.bucket(aws.String(srcBucket))
	if err != nil {
		return nil, err
	}
	o, ok := src[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	dst, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	dst[aws.ToString(in.Key)] = o
	return &awss3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: aws.String(etag(o.data))}}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(b, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range b {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := f.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		o := b[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			ETag:         aws.String(etag(o.data)),
			LastModified: aws.Time(o.modified),
		})
	}
	return out, nil
}

func (f *fakeS3) ListBuckets(context.Context, *awss3.ListBucketsInput, ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &awss3.ListBucketsOutput{}
	for name := range f.buckets {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(name)})
	}
	sort.Slice(out.Buckets, func(i, j int) bool { return *out.Buckets[i].Name < *out.Buckets[j].Name })
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *awss3.CreateBucketInput, _ ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[name] = make(map[string]object)
	return &awss3.CreateBucketOutput{}, nil
}

func (f *fakeS3) DeleteBucket(_ context.Context, in *awss3.DeleteBucketInput, _ ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets, aws.ToString(in.Bucket))
	return &awss3.DeleteBucketOutput{}, nil
}

func (f *fakeS3) keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts awss3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	url := fmt.Sprintf("https://%s.s3.local/%s?X-Amz-Expires=%d", aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds()))
	return &v4.PresignedHTTPRequest{URL: url, Method: "GET"}, nil
}

func endpoint(t *testing.T, fake *fakeS3, uri string) core.Endpoint {
	t.Helper()
	c := New(logger.NewNop(), WithClient(fake, fakePresigner{}))
	_, remaining, params, err := core.ParseURI(uri)
	require.NoError(t, err)
	ep, err := c.CreateEndpoint(uri, remaining, params)
	require.NoError(t, err)
	require.Empty(t, params)
	return ep
}

func send(t *testing.T, ep core.Endpoint, body any, headers map[string]any) (*core.Exchange, error) {
	t.Helper()
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	ex := core.NewExchange(core.InOut)
	ex.Message.Body = body
	for k, v := range headers {
		ex.Message.SetHeader(k, v)
	}
	return ex, p.Process(context.Background(), ex)
}

func TestPutAndGetObject(t *testing.T) {
	fake := newFake("docs")
	ep := endpoint(t, fake, "aws2-s3:docs")

	ex, err := send(t, ep, "hello", map[string]any{HeaderKey: "a.txt", HeaderContentType: "text/plain"})
	require.NoError(t, err)
	assert.NotEmpty(t, ex.Message.Headers[HeaderETag])

	ex, err = send(t, ep, nil, map[string]any{HeaderKey: "a.txt", HeaderOperation: OpGetObject})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), ex.Message.Body)
	assert.Equal(t, "text/plain", ex.Message.Headers[HeaderContentType])
	assert.Equal(t, int64(5), ex.Message.Headers[HeaderContentLength])
	assert.Equal(t, "docs", ex.Message.Headers[HeaderBucketName])
}

func TestKeyNameOption(t *testing.T) {
	fake := newFake("docs")
	_, err := send(t, endpoint(t, fake, "aws2-s3:docs?keyName=fixed.json&contentType=application/json"), map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed.json"}, fake.keys("docs"))
	assert.Equal(t, "application/json", fake.buckets["docs"]["fixed.json"].contentType)
	assert.Equal(t, `{"a":1}`, string(fake.buckets["docs"]["fixed.json"].data))

	_, err = send(t, endpoint(t, fake, "aws2-s3:docs"), "x", nil)
	assert.ErrorContains(t, err, "no object key")
	assert.False(t, core.IsRetryable(err))
}

func TestMissingObjectIsNotRetryable(t *testing.T) {
	ep := endpoint(t, newFake("docs"), "aws2-s3:docs?operation=getObject")
	_, err := send(t, ep, nil, map[string]any{HeaderKey: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, core.IsRetryable(err))

	_, err = send(t, ep, nil, map[string]any{HeaderKey: "missing", HeaderOperation: OpHeadObject})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListObjectsFollowsPages(t *testing.T) {
	fake := newFake("docs")
	ep := endpoint(t, fake, "aws2-s3:docs")
	for _, k := range []string{"in/1", "in/2", "in/3", "out/1", "in/4"} {
		_, err := send(t, ep, k, map[string]any{HeaderKey: k})
		require.NoError(t, err)
	}

	ex, err := send(t, endpoint(t, fake, "aws2-s3:docs?operation=listObjects&prefix=in/"), nil, nil)
	require.NoError(t, err)
	objects := ex.Message.Body.([]Object)
	require.Len(t, objects, 4)
	assert.Equal(t, "in/1", objects[0].Key)
	assert.Equal(t, "in/4", objects[3].Key)
	assert.Equal(t, int64(4), objects[0].Size)

	ex, err = send(t, endpoint(t, fake, "aws2-s3:docs?operation=listObjects"), nil, map[string]any{HeaderPrefix: "out/"})
	require.NoError(t, err)
	assert.Len(t, ex.Message.Body.([]Object), 1)
}

func TestBucketOperations(t *testing.T) {
	fake := newFake("a")

	_, err := send(t, endpoint(t, fake, "aws2-s3:b?operation=createBucket"), nil, nil)
	require.NoError(t, err)
	_, err = send(t, endpoint(t, fake, "aws2-s3:b?operation=createBucket"), nil, nil)
	require.NoError(t, err)

	ex, err := send(t, endpoint(t, fake, "aws2-s3:?operation=listBuckets"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ex.Message.Body)

	_, err = send(t, endpoint(t, fake, "aws2-s3:a?operation=deleteBucket"), nil, nil)
	require.NoError(t, err)
	ex, err = send(t, endpoint(t, fake, "aws2-s3:?operation=listBuckets"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ex.Message.Body)
}

func TestAutoCreateBucket(t *testing.T) {
	fake := newFake()
	_, err := send(t, endpoint(t, fake, "aws2-s3:fresh?autoCreateBucket=true&keyName=k"), "v", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, fake.keys("fresh"))
}

func TestCopyDeleteAndHead(t *testing.T) {
	fake := newFake("src", "dst")
	ep := endpoint(t, fake, "aws2-s3:src")
	_, err := send(t, ep, "payload", map[string]any{HeaderKey: "k"})
	require.NoError(t, err)

	_, err = send(t, ep, nil, map[string]any{
		HeaderKey:               "k",
		HeaderOperation:         OpCopyObject,
		HeaderDestinationBucket: "dst",
		HeaderDestinationKey:    "copy",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"copy"}, fake.keys("dst"))

	_, err = send(t, ep, nil, map[string]any{HeaderKey: "k", HeaderOperation: OpCopyObject})
	assert.False(t, core.IsRetryable(err))

	ex, err := send(t, ep, nil, map[string]any{HeaderKey: "k", HeaderOperation: OpHeadObject})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ex.Message.Body.(Object).Size)

	_, err = send(t, ep, nil, map[string]any{HeaderKey: "k", HeaderOperation: OpDeleteObject})
	require.NoError(t, err)
	assert.Empty(t, fake.keys("src"))
}

func TestCreateDownloadLink(t *testing.T) {
	ep := endpoint(t, newFake("docs"), "aws2-s3:docs?operation=createDownloadLink&downloadLinkExpirationTime=10m")
	ex, err := send(t, ep, nil, map[string]any{HeaderKey: "report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "https://docs.s3.local/report.pdf?X-Amz-Expires=600", ex.Message.Body)

	ex, err = send(t, ep, nil, map[string]any{HeaderKey: "report.pdf", HeaderDownloadLinkExpires: 30000})
	require.NoError(t, err)
	assert.Equal(t, "https://docs.s3.local/report.pdf?X-Amz-Expires=30", ex.Message.Body)
}

func TestEndpointValidation(t *testing.T) {
	c := New(logger.NewNop(), WithClient(newFake(), nil))
	for _, uri := range []string{"aws2-s3:", "aws2-s3:b?operation=rename"} {
		_, remaining, params, err := core.ParseURI(uri)
		require.NoError(t, err)
		_, err = c.CreateEndpoint(uri, remaining, params)
		assert.Error(t, err, uri)
	}

	ep := endpoint(t, newFake(), "aws2-s3:?operation=listBuckets")
	_, err := ep.CreateConsumer(&collector{})
	assert.Error(t, err)
}

type collector struct {
	mu        sync.Mutex
	exchanges []*core.Exchange
}

func (c *collector) Process(_ context.Context, ex *core.Exchange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, ex)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

func TestConsumerDeletesAfterRead(t *testing.T) {
	fake := newFake("inbox")
	producer := endpoint(t, fake, "aws2-s3:inbox")
	for _, k := range []string{"a", "b", "c"} {
		_, err := send(t, producer, "body-"+k, map[string]any{HeaderKey: k})
		require.NoError(t, err)
	}

	rec := &collector{}
	consumer, err := endpoint(t, fake, "aws2-s3:inbox?initialDelay=0&delay=10&maxMessagesPerPoll=2").CreateConsumer(rec)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))

	assert.Equal(t, []byte("body-a"), rec.exchanges[0].Message.Body)
	assert.Equal(t, "a", rec.exchanges[0].Message.Headers[HeaderKey])
	assert.Equal(t, 2, rec.exchanges[0].Properties[core.PropertyBatchSize])
	assert.Empty(t, fake.keys("inbox"))
}

func TestConsumerWithoutDeleteOrBody(t *testing.T) {
	fake := newFake("inbox")
	_, err := send(t, endpoint(t, fake, "aws2-s3:inbox"), "data", map[string]any{HeaderKey: "keep"})
	require.NoError(t, err)

	rec := &collector{}
	consumer, err := endpoint(t, fake, "aws2-s3:inbox?initialDelay=0&delay=10&deleteAfterRead=false&includeBody=false").CreateConsumer(rec)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))

	require.Equal(t, 1, rec.len())
	assert.Nil(t, rec.exchanges[0].Message.Body)
	assert.Equal(t, int64(4), rec.exchanges[0].Message.Headers[HeaderContentLength])
	assert.Equal(t, []string{"keep"}, fake.keys("inbox"))
}

func TestConsumerPagesPastFirstListing(t *testing.T) {
	fake := newFake("inbox")
	producer := endpoint(t, fake, "aws2-s3:inbox")
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := send(t, producer, "body-"+k, map[string]any{HeaderKey: k})
		require.NoError(t, err)
	}

	rec := &collector{}
	consumer, err := endpoint(t, fake, "aws2-s3:inbox?initialDelay=0&delay=10&deleteAfterRead=false&maxMessagesPerPoll=2").CreateConsumer(rec)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, consumer.Start(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 5 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, consumer.Stop(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	keys := make([]string, 0, len(rec.exchanges))
	for _, ex := range rec.exchanges {
		keys = append(keys, ex.Message.HeaderString(HeaderKey))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	assert.Len(t, fake.keys("inbox"), 5)
}
