// Package schema declares the target tables, primary keys, foreign keys,
// and post-load indexes for the UniProtKB mirror (spec.md §3.2, §4.4, §6).
// It is the single source of truth that the row encoder, the bulk load
// executor, and the database adapter all read from, so that adding a column
// never requires touching more than one place.
package schema

// ForeignKey describes a single FK from this table to another table within
// the same schema (spec.md §3.2: "Foreign keys are declared inside each
// schema only, so renames are self-contained").
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string // "CASCADE", "RESTRICT", ...
}

// IndexKind distinguishes the two index flavors named in spec.md §6.
type IndexKind string

const (
	IndexBTree   IndexKind = "btree"
	IndexInverted IndexKind = "gin" // inverted index; Postgres calls this GIN
)

// Index describes one post-load index (spec.md §6).
type Index struct {
	Name    string
	Kind    IndexKind
	Columns []string
}

// Table is the declarative definition of one target table.
type Table struct {
	Name        string
	Columns     []string // ordered; matches the spool file's column order
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Catalog is the full set of tables, in the order they must be created (and,
// for delta loads, merged: parents before children per spec.md §4.8).
type Catalog struct {
	Tables []Table
}

// byName indexes catalog tables for lookup.
func (c Catalog) byName() map[string]Table {
	m := make(map[string]Table, len(c.Tables))
	for _, t := range c.Tables {
		m[t.Name] = t
	}
	return m
}

// Table returns the table definition by name, and whether it was found.
func (c Catalog) Table(name string) (Table, bool) {
	t, ok := c.byName()[name]
	return t, ok
}

// LoadOrder returns table names in parent-before-child order for delta
// merges and staging DDL, per spec.md §4.8.
func (c Catalog) LoadOrder() []string {
	out := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = t.Name
	}
	return out
}

// Default returns the catalog for the UniProtKB mirror described in
// spec.md §3.2. It intentionally excludes load_history and
// py_load_uniprot_metadata from the main load order's FK graph — they are
// populated by the Metadata Registry, not the bulk load executor, though
// they live inside the same production/staging schema (spec.md §6).
func Default() Catalog {
	return Catalog{
		Tables: []Table{
			{
				Name:       "taxonomy",
				Columns:    []string{"ncbi_taxid", "scientific_name", "lineage"},
				PrimaryKey: []string{"ncbi_taxid"},
				Indexes:    nil,
			},
			{
				Name: "proteins",
				Columns: []string{
					"primary_accession", "uniprot_id", "ncbi_taxid",
					"sequence_length", "molecular_weight",
					"created_date", "modified_date",
					"comments_data", "features_data", "db_references_data", "evidence_data",
				},
				PrimaryKey: []string{"primary_accession"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"ncbi_taxid"}, RefTable: "taxonomy", RefColumns: []string{"ncbi_taxid"}, OnDelete: "RESTRICT"},
				},
				Indexes: []Index{
					{Name: "ix_proteins_uniprot_id", Kind: IndexBTree, Columns: []string{"uniprot_id"}},
					{Name: "ix_proteins_comments_data", Kind: IndexInverted, Columns: []string{"comments_data"}},
					{Name: "ix_proteins_features_data", Kind: IndexInverted, Columns: []string{"features_data"}},
					{Name: "ix_proteins_db_references_data", Kind: IndexInverted, Columns: []string{"db_references_data"}},
				},
			},
			{
				Name:       "sequences",
				Columns:    []string{"primary_accession", "sequence"},
				PrimaryKey: []string{"primary_accession"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"primary_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
				},
			},
			{
				Name:       "accessions",
				Columns:    []string{"protein_accession", "secondary_accession"},
				PrimaryKey: []string{"protein_accession", "secondary_accession"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"protein_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
				},
				Indexes: []Index{
					{Name: "ix_accessions_secondary", Kind: IndexBTree, Columns: []string{"secondary_accession"}},
				},
			},
			{
				Name:       "genes",
				Columns:    []string{"protein_accession", "gene_name", "is_primary"},
				PrimaryKey: []string{"protein_accession", "gene_name"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"protein_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
				},
				Indexes: []Index{
					{Name: "ix_genes_gene_name", Kind: IndexBTree, Columns: []string{"gene_name"}},
				},
			},
			{
				Name:       "keywords",
				Columns:    []string{"protein_accession", "keyword_id", "keyword_label"},
				PrimaryKey: []string{"protein_accession", "keyword_id"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"protein_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
				},
				Indexes: []Index{
					{Name: "ix_keywords_label", Kind: IndexBTree, Columns: []string{"keyword_label"}},
				},
			},
			{
				Name:       "protein_to_go",
				Columns:    []string{"protein_accession", "go_term_id"},
				PrimaryKey: []string{"protein_accession", "go_term_id"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"protein_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
				},
				Indexes: []Index{
					{Name: "ix_protein_to_go_term", Kind: IndexBTree, Columns: []string{"go_term_id"}},
				},
			},
			{
				Name:       "protein_to_taxonomy",
				Columns:    []string{"protein_accession", "ncbi_taxid"},
				PrimaryKey: []string{"protein_accession", "ncbi_taxid"},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"protein_accession"}, RefTable: "proteins", RefColumns: []string{"primary_accession"}, OnDelete: "CASCADE"},
					{Columns: []string{"ncbi_taxid"}, RefTable: "taxonomy", RefColumns: []string{"ncbi_taxid"}, OnDelete: "RESTRICT"},
				},
				Indexes: []Index{
					{Name: "ix_protein_to_taxonomy_taxid", Kind: IndexBTree, Columns: []string{"ncbi_taxid"}},
				},
			},
		},
	}
}

// MetadataTables are created in every schema (staging and production) but
// are populated by the Metadata Registry rather than the bulk load
// executor; they are kept separate from Default() because they have no
// place in the PTC/BLE table-load order.
func MetadataTables() []Table {
	return []Table{
		{
			Name:       "py_load_uniprot_metadata",
			Columns:    []string{"version", "release_date", "load_timestamp", "swissprot_entry_count", "trembl_entry_count"},
			PrimaryKey: []string{"version"},
		},
		{
			Name:       "load_history",
			Columns:    []string{"id", "run_id", "status", "mode", "dataset", "start_time", "end_time", "error_message"},
			PrimaryKey: []string{"id"},
		},
	}
}
