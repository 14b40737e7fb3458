package sproto

import "fmt"

// WireType is the encoding class of a schema field.
type WireType uint8

const (
	TypeInvalid WireType = iota
	TypeInteger
	TypeString
	TypeBoolean
	TypeObject
	TypeArray
	TypeBinary
)

func (t WireType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("wiretype(%d)", uint8(t))
	}
}

// Container reports whether values of t hold nested fields.
func (t WireType) Container() bool {
	return t == TypeObject || t == TypeArray
}

// Tag is the stable identifier of one schema position. Each tag occurs at
// exactly one place in the schema tree.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagRoot
	TagSignatures
	TagSignatureEntry
	TagAlgorithmID
	TagSignature
	TagLicense
	TagHeader
	TagLicgenVersion
	TagLMVersion
	TagUID
	TagLicenseName
	TagUpdateCounter
	TagRequirements
	TagFingerprint
	TagVendors
	TagVendor
	TagVendorID
	TagVendorName
	TagProducts
	TagProduct
	TagProductID
	TagProductVersionRegex
	TagProductName
	TagLicenseProperty
	TagFeatures
	TagFeature
	TagFeatureID
	TagFeatureName
	TagPerpetual
	TagStartDate
	TagEndDate
	TagCounter
	TagDurationFromFirstUse
	TagCustomAttributes
	TagConcurrency
	TagConcurrencyLimit
	TagConcurrencySoftLimit

	tagCount
)

// MaxLevel bounds object/array nesting and the Scope stack.
const MaxLevel = 16

// MaxChildren bounds the number of fields one object may declare.
const MaxChildren = 64

// Field indices inside the license property object.
const (
	PropFeatures = iota
	PropPerpetual
	PropStartDate
	PropEndDate
	PropCounter
	PropDurationFromFirstUse
	PropCustomAttributes
	PropConcurrency
)

// Node is one entry of the schema tree. Objects list their fields in
// encoding order; arrays carry exactly one child, the element node.
type Node struct {
	Tag      Tag
	Type     WireType
	Name     string
	Children []*Node

	// subtree holds a bit per tag reachable below this node.
	subtree uint64
}

// Contains reports whether tag occurs strictly below n.
func (n *Node) Contains(tag Tag) bool {
	return n.subtree&(1<<uint(tag)) != 0
}

// Element returns the element node of an array.
func (n *Node) Element() *Node {
	if n.Type != TypeArray || len(n.Children) != 1 {
		return nil
	}
	return n.Children[0]
}

type tagDef struct {
	typ  WireType
	name string
}

// tagTable is the one canonical tag → type mapping; the tree below is
// checked against it when the package initializes.
var tagTable = [tagCount]tagDef{
	TagRoot:                 {TypeObject, "root"},
	TagSignatures:           {TypeArray, "signatures"},
	TagSignatureEntry:       {TypeObject, "signature_entry"},
	TagAlgorithmID:          {TypeInteger, "algorithm_id"},
	TagSignature:            {TypeString, "signature"},
	TagLicense:              {TypeObject, "license"},
	TagHeader:               {TypeObject, "header"},
	TagLicgenVersion:        {TypeInteger, "licgen_version"},
	TagLMVersion:            {TypeInteger, "lm_version"},
	TagUID:                  {TypeBinary, "uid"},
	TagLicenseName:          {TypeString, "license_name"},
	TagUpdateCounter:        {TypeInteger, "update_counter"},
	TagRequirements:         {TypeBinary, "requirements"},
	TagFingerprint:          {TypeBinary, "fingerprint"},
	TagVendors:              {TypeArray, "vendors"},
	TagVendor:               {TypeObject, "vendor"},
	TagVendorID:             {TypeInteger, "vendor_id"},
	TagVendorName:           {TypeString, "vendor_name"},
	TagProducts:             {TypeArray, "products"},
	TagProduct:              {TypeObject, "product"},
	TagProductID:            {TypeInteger, "product_id"},
	TagProductVersionRegex:  {TypeString, "product_version_regex"},
	TagProductName:          {TypeString, "product_name"},
	TagLicenseProperty:      {TypeObject, "license_property"},
	TagFeatures:             {TypeArray, "features"},
	TagFeature:              {TypeObject, "feature"},
	TagFeatureID:            {TypeInteger, "feature_id"},
	TagFeatureName:          {TypeString, "feature_name"},
	TagPerpetual:            {TypeBoolean, "perpetual"},
	TagStartDate:            {TypeInteger, "start_date"},
	TagEndDate:              {TypeInteger, "end_date"},
	TagCounter:              {TypeInteger, "counter"},
	TagDurationFromFirstUse: {TypeInteger, "duration_from_first_use"},
	TagCustomAttributes:     {TypeString, "custom_attributes"},
	TagConcurrency:          {TypeObject, "concurrency"},
	TagConcurrencyLimit:     {TypeInteger, "concurrency_limit"},
	TagConcurrencySoftLimit: {TypeInteger, "concurrency_soft_limit"},
}

var nodes [tagCount]*Node

func node(tag Tag, children ...*Node) *Node {
	n := &Node{
		Tag:      tag,
		Type:     tagTable[tag].typ,
		Name:     tagTable[tag].name,
		Children: children,
	}
	nodes[tag] = n
	return n
}

// Root is the schema of a complete license buffer.
var Root = node(TagRoot,
	node(TagLicense,
		node(TagHeader,
			node(TagLicgenVersion),
			node(TagLMVersion),
			node(TagUID),
			node(TagLicenseName),
			node(TagUpdateCounter),
			node(TagRequirements),
			node(TagFingerprint),
		),
		node(TagVendors,
			node(TagVendor,
				node(TagVendorID),
				node(TagVendorName),
				node(TagProducts,
					node(TagProduct,
						node(TagProductID),
						node(TagProductVersionRegex),
						node(TagProductName),
						node(TagLicenseProperty,
							node(TagFeatures,
								node(TagFeature,
									node(TagFeatureID),
									node(TagFeatureName),
								),
							),
							node(TagPerpetual),
							node(TagStartDate),
							node(TagEndDate),
							node(TagCounter),
							node(TagDurationFromFirstUse),
							node(TagCustomAttributes),
							node(TagConcurrency,
								node(TagConcurrencyLimit),
								node(TagConcurrencySoftLimit),
							),
						),
					),
				),
			),
		),
	),
	node(TagSignatures,
		node(TagSignatureEntry,
			node(TagAlgorithmID),
			node(TagSignature),
		),
	),
)

func init() {
	depth := 0
	var visit func(n *Node, level int) uint64
	visit = func(n *Node, level int) uint64 {
		if level > depth {
			depth = level
		}
		if n.Type == TypeArray && len(n.Children) != 1 {
			panic(fmt.Sprintf("sproto: array %s must have one element node", n.Name))
		}
		if len(n.Children) > MaxChildren {
			panic(fmt.Sprintf("sproto: %s has too many children", n.Name))
		}
		if len(n.Children) > 0 && !n.Type.Container() {
			panic(fmt.Sprintf("sproto: leaf %s has children", n.Name))
		}
		for _, c := range n.Children {
			n.subtree |= 1<<uint(c.Tag) | visit(c, level+1)
		}
		return n.subtree
	}
	visit(Root, 1)
	if depth > MaxLevel {
		panic("sproto: schema deeper than MaxLevel")
	}
	for tag := TagRoot; tag < tagCount; tag++ {
		if nodes[tag] == nil {
			panic(fmt.Sprintf("sproto: tag %d missing from schema", tag))
		}
	}
}

// Valid reports whether tag names a schema position.
func (t Tag) Valid() bool {
	return t > TagInvalid && t < tagCount
}

// Type returns the wire type declared for t, or TypeInvalid.
func (t Tag) Type() WireType {
	if !t.Valid() {
		return TypeInvalid
	}
	return tagTable[t].typ
}

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
	return tagTable[t].name
}

// NodeOf returns the schema node for t, or nil.
func NodeOf(t Tag) *Node {
	if !t.Valid() {
		return nil
	}
	return nodes[t]
}

// TagByName resolves a schema field name such as "feature_id".
func TagByName(name string) (Tag, bool) {
	for tag := TagRoot; tag < tagCount; tag++ {
		if tagTable[tag].name == name {
			return tag, true
		}
	}
	return TagInvalid, false
}
