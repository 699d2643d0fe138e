package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"time"
)

// Block is one node of a course outline.
type Block struct {
	ID          string
	ParentID    string
	Category    string
	DisplayName string
}

// Course is the outline packaged into an OLX archive.
type Course struct {
	Org    string
	Number string
	Run    string
	Blocks []Block
}

// OLXExporter packages a course outline as a gzipped OLX tarball.
type OLXExporter struct {
	now func() time.Time
}

// NewOLXExporter builds an OLX exporter.
func NewOLXExporter() *OLXExporter {
	return &OLXExporter{now: time.Now}
}

type olxNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*olxNode `xml:",any"`
}

// Render produces the archive bytes.
func (e *OLXExporter) Render(course Course) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := e.Write(buf, course); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the archive to w. The layout is course/course.xml pointing at
// course/course/{run}.xml, which holds the nested block tree.
func (e *OLXExporter) Write(w io.Writer, course Course) error {
	if course.Org == "" || course.Number == "" || course.Run == "" {
		return fmt.Errorf("olx export requires org, number and run")
	}
	tree, err := buildTree(course)
	if err != nil {
		return err
	}

	pointer, err := marshalXML(&olxNode{
		XMLName: xml.Name{Local: "course"},
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "url_name"}, Value: course.Run},
			{Name: xml.Name{Local: "org"}, Value: course.Org},
			{Name: xml.Name{Local: "course"}, Value: course.Number},
		},
	})
	if err != nil {
		return err
	}
	body, err := marshalXML(tree)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	modified := e.now().UTC()
	files := []struct {
		name string
		data []byte
	}{
		{name: path.Join(ArchiveRoot, CourseXML), data: pointer},
		{name: path.Join(ArchiveRoot, "course", course.Run+".xml"), data: body},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.data)), ModTime: modified, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header %s: %w", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			return fmt.Errorf("write tar entry %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func buildTree(course Course) (*olxNode, error) {
	root := &olxNode{
		XMLName: xml.Name{Local: "course"},
		Attrs:   []xml.Attr{{Name: xml.Name{Local: "display_name"}, Value: course.Number}},
	}
	nodes := make(map[string]*olxNode, len(course.Blocks))
	for _, b := range course.Blocks {
		if b.Category == "course" {
			root.Attrs = []xml.Attr{{Name: xml.Name{Local: "display_name"}, Value: b.DisplayName}}
			nodes[b.ID] = root
			continue
		}
		attrs := []xml.Attr{{Name: xml.Name{Local: "url_name"}, Value: b.ID}}
		if b.DisplayName != "" {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "display_name"}, Value: b.DisplayName})
		}
		nodes[b.ID] = &olxNode{XMLName: xml.Name{Local: b.Category}, Attrs: attrs}
	}
	for _, b := range course.Blocks {
		if b.Category == "course" {
			continue
		}
		parent, ok := nodes[b.ParentID]
		if !ok {
			parent = root
		}
		if parent == nodes[b.ID] {
			return nil, fmt.Errorf("block %s is its own parent", b.ID)
		}
		parent.Children = append(parent.Children, nodes[b.ID])
	}
	return root, nil
}

func marshalXML(node *olxNode) ([]byte, error) {
	body, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal olx: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
