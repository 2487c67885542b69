package raster

import (
	"context"
	"fmt"
	"image"
	"os"

	"golang.org/x/image/tiff"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/internal/pool"
	gserrors "github.com/geosample/geosample/pkg/errors"
)

// GeoTIFFOpener opens single-band classified GeoTIFFs (8-bit gray or
// paletted, or 16-bit gray). Pixel data is decoded lazily by EachBlock.
type GeoTIFFOpener struct {
	Pool *pool.BlockPool
}

// NewGeoTIFFOpener creates an opener sharing one block buffer pool.
func NewGeoTIFFOpener() *GeoTIFFOpener {
	return &GeoTIFFOpener{Pool: pool.NewBlockPool(pool.DefaultBlockSize)}
}

// Open reads the GeoTIFF header. A file without CRS information opens
// successfully and reports a nil CRS.
func (o *GeoTIFFOpener) Open(ctx context.Context, path string) (Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeRasterOpen, "open raster").WithContext("path", path)
	}

	p, herr := readGeoTIFFHeader(f)
	if herr != nil {
		f.Close()
		return nil, herr.WithContext("path", path)
	}
	p.id = PartitionID(path)
	p.file = f
	p.pool = o.Pool
	if p.pool == nil {
		p.pool = pool.NewBlockPool(pool.DefaultBlockSize)
	}
	return p, nil
}

type geoTIFFPartition struct {
	id        string
	file      *os.File
	pool      *pool.BlockPool
	crs       *model.CRS
	transform GeoTransform
	width     int
	height    int
	blockW    int
	blockH    int

	// Stored values are inverted by the decoder and must be flipped back.
	whiteIsZero bool
}

func readGeoTIFFHeader(f *os.File) (*geoTIFFPartition, *gserrors.Error) {
	d, err := readIFD(f)
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeUnsupportedRaster, "read tiff header")
	}

	p := &geoTIFFPartition{}
	w, okW, errW := d.scalar(tagImageWidth)
	h, okH, errH := d.scalar(tagImageLength)
	if errW != nil || errH != nil || !okW || !okH {
		return nil, gserrors.New(gserrors.CodeRasterDecode, "missing image dimensions")
	}
	p.width, p.height = int(w), int(h)

	if tw, ok, _ := d.scalar(tagTileWidth); ok {
		th, _, _ := d.scalar(tagTileLength)
		p.blockW, p.blockH = int(tw), int(th)
	} else if rps, ok, _ := d.scalar(tagRowsPerStrip); ok {
		p.blockW, p.blockH = p.width, int(rps)
	}
	if pi, ok, _ := d.scalar(tagPhotometric); ok && pi == photometricWhiteIsZero {
		p.whiteIsZero = true
	}

	keys, ok, err := d.geoKeys()
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeRasterDecode, "read geokeys")
	}
	pixelIsPoint := false
	if ok {
		if code, citation, found := keys.crs(); found {
			p.crs = &model.CRS{EPSG: code, Citation: citation}
		}
		pixelIsPoint = keys.shorts[keyGTRasterType] == rasterPixelIsPoint
	}

	gt, err := geoTransform(d)
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeUnsupportedRaster, "read georeferencing")
	}
	if pixelIsPoint {
		// Shift the origin so that pixel centres land on the tie points.
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}
	p.transform = gt
	return p, nil
}

func geoTransform(d *ifd) (GeoTransform, error) {
	if m, ok, err := d.doubles(tagModelTransformation); err != nil {
		return GeoTransform{}, err
	} else if ok {
		if len(m) < 16 {
			return GeoTransform{}, fmt.Errorf("model transformation has %d values", len(m))
		}
		return GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}

	tie, okTie, err := d.doubles(tagModelTiepoint)
	if err != nil {
		return GeoTransform{}, err
	}
	scale, okScale, err := d.doubles(tagModelPixelScale)
	if err != nil {
		return GeoTransform{}, err
	}
	if !okTie || !okScale || len(tie) < 6 || len(scale) < 2 {
		return GeoTransform{}, fmt.Errorf("no tie point and pixel scale")
	}
	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	sx, sy := scale[0], scale[1]
	return GeoTransform{x - i*sx, sx, 0, y + j*sy, 0, -sy}, nil
}

func (p *geoTIFFPartition) ID() string              { return p.id }
func (p *geoTIFFPartition) CRS() *model.CRS         { return p.crs }
func (p *geoTIFFPartition) Transform() GeoTransform { return p.transform }
func (p *geoTIFFPartition) Size() (int, int)        { return p.width, p.height }

func (p *geoTIFFPartition) Close() error {
	return p.file.Close()
}

// EachBlock decodes the image and walks it in the file's native tile or
// strip layout.
func (p *geoTIFFPartition) EachBlock(ctx context.Context, fn func(*Block) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := tiff.Decode(p.file)
	if err != nil {
		return gserrors.Wrap(err, gserrors.CodeRasterDecode, "decode raster").WithContext("partition", p.id)
	}
	read, err := cellReader(img, p.whiteIsZero)
	if err != nil {
		return err
	}
	bounds := img.Bounds()

	return tiles(p.width, p.height, p.blockW, p.blockH, func(rowOff, colOff, w, h int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := p.pool.Get(w * h)
		defer p.pool.Put(buf)

		i := 0
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				buf.Values[i] = read(bounds.Min.X+colOff+c, bounds.Min.Y+rowOff+r)
				i++
			}
		}
		return fn(&Block{RowOff: rowOff, ColOff: colOff, Width: w, Height: h, Values: buf.Values})
	})
}

// cellReader returns a raw class-value accessor for the decoded image.
// The tiff decoder maps WhiteIsZero gray samples to 0xff-v (or 0xffff-v),
// so whiteIsZero undoes that to recover the stored class value.
func cellReader(img image.Image, whiteIsZero bool) (func(x, y int) model.ClassID, error) {
	switch im := img.(type) {
	case *image.Gray:
		if whiteIsZero {
			return func(x, y int) model.ClassID {
				return model.ClassID(0xff - im.Pix[im.PixOffset(x, y)])
			}, nil
		}
		return func(x, y int) model.ClassID {
			return model.ClassID(im.Pix[im.PixOffset(x, y)])
		}, nil
	case *image.Paletted:
		return func(x, y int) model.ClassID {
			return model.ClassID(im.Pix[im.PixOffset(x, y)])
		}, nil
	case *image.Gray16:
		return func(x, y int) model.ClassID {
			i := im.PixOffset(x, y)
			v := uint16(im.Pix[i])<<8 | uint16(im.Pix[i+1])
			if whiteIsZero {
				v = 0xffff - v
			}
			return model.ClassID(v)
		}, nil
	default:
		return nil, gserrors.Newf(gserrors.CodeUnsupportedRaster, "unsupported pixel layout %T", img)
	}
}
