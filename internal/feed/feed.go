package feed

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var imageExts = []string{".png", ".jpg", ".webp"}

type bucketAPI interface {
	s3.ListObjectsV2APIClient
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Generator struct {
	client bucketAPI
	bucket string
	site   string
	now    func() time.Time
}

func NewS3Generator(i *do.Injector) (*Generator, error) {
	return &Generator{
		client: do.MustInvoke[*s3.Client](i),
		bucket: do.MustInvokeNamed[string](i, "bucket"),
		site:   do.MustInvokeNamed[string](i, "site"),
		now:    time.Now,
	}, nil
}

func isArchived(o s3types.Object) bool {
	key := aws.ToString(o.Key)
	return lo.Contains(imageExts, path.Ext(key)) && !strings.HasPrefix(key, "latest")
}

// Generate builds an RSS feed of every archived image in the bucket, oldest first.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed").With("bucket", g.bucket)
	log.Info("generating rss feed")

	site := strings.TrimRight(g.site, "/")
	feed := feeds.Feed{
		Title:       "imagegateway",
		Description: "Images generated through the gateway",
		Link:        &feeds.Link{Href: site},
		Updated:     g.now(),
	}

	var mu sync.Mutex
	pager := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
	})

	group, gctx := errgroup.WithContext(ctx)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range lo.Filter(page.Contents, func(o s3types.Object, _ int) bool { return isArchived(o) }) {
			obj := obj
			group.Go(func() error {
				out, err := g.client.HeadObject(gctx, &s3.HeadObjectInput{
					Bucket: aws.String(g.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					return err
				}

				meta := out.Metadata
				item := &feeds.Item{
					Id:          aws.ToString(obj.Key),
					Title:       fmt.Sprintf("%s:%s", meta["prompt"], meta["model"]),
					Link:        &feeds.Link{Href: fmt.Sprintf("%s/%s.html", site, meta["date"])},
					Description: meta["prompt"],
					Enclosure: &feeds.Enclosure{
						Url:    fmt.Sprintf("%s/%s", site, aws.ToString(obj.Key)),
						Length: strconv.FormatInt(aws.ToInt64(out.ContentLength), 10),
						Type:   aws.ToString(out.ContentType),
					},
					Updated: aws.ToTime(out.LastModified),
				}
				mu.Lock()
				feed.Add(item)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Updated.Before(b.Updated)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
