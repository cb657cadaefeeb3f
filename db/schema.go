package db

// Schema versioning: bump the minor on any column change; merge
// refuses to mix majors.
const (
	SchemaMajorVersion = 0
	SchemaMinorVersion = 12
)

// schema is the contract shared by every pipeline stage. Positions are
// 1-based closed intervals; type, filter and level columns are
// bitsets.
const schema = `
DROP TABLE IF EXISTS schema_version;
CREATE TABLE schema_version (
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL);

DROP TABLE IF EXISTS batch;
CREATE TABLE batch (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL);

DROP TABLE IF EXISTS source;
CREATE TABLE source (
	id INTEGER PRIMARY KEY,
	batch_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	FOREIGN KEY (batch_id) REFERENCES batch(id));

DROP TABLE IF EXISTS exon;
CREATE TABLE exon (
	id INTEGER PRIMARY KEY,
	gene_name TEXT NOT NULL,
	chr TEXT NOT NULL,
	start INTEGER NOT NULL,
	end INTEGER NOT NULL,
	strand TEXT NOT NULL,
	ensg TEXT NOT NULL,
	ense TEXT NOT NULL);

DROP TABLE IF EXISTS alignment;
CREATE TABLE alignment (
	id INTEGER PRIMARY KEY,
	qname TEXT NOT NULL,
	flag INTEGER NOT NULL,
	chr TEXT NOT NULL,
	pos INTEGER NOT NULL,
	mapq INTEGER NOT NULL,
	cigar TEXT NOT NULL,
	qlen INTEGER DEFAULT -1,
	rlen INTEGER DEFAULT -1,
	chr_next TEXT NOT NULL,
	pos_next INTEGER NOT NULL,
	type INTEGER DEFAULT 0,
	source_id INTEGER NOT NULL,
	FOREIGN KEY (source_id) REFERENCES source(id));

DROP TABLE IF EXISTS overlapping;
CREATE TABLE overlapping (
	exon_id INTEGER NOT NULL,
	alignment_id INTEGER NOT NULL,
	pos INTEGER NOT NULL,
	len INTEGER NOT NULL,
	FOREIGN KEY (exon_id) REFERENCES exon(id),
	FOREIGN KEY (alignment_id) REFERENCES alignment(id),
	PRIMARY KEY (exon_id, alignment_id));

DROP TABLE IF EXISTS clustering;
CREATE TABLE clustering (
	cluster_id INTEGER NOT NULL,
	cluster_sid INTEGER NOT NULL,
	alignment_id INTEGER NOT NULL,
	label INTEGER NOT NULL,
	neighbors INTEGER NOT NULL,
	FOREIGN KEY (alignment_id) REFERENCES alignment(id),
	PRIMARY KEY (cluster_id, cluster_sid, alignment_id));

DROP TABLE IF EXISTS cluster;
CREATE TABLE cluster (
	id INTEGER NOT NULL,
	sid INTEGER NOT NULL,
	chr TEXT NOT NULL,
	start INTEGER NOT NULL,
	end INTEGER NOT NULL,
	gene_name TEXT NOT NULL,
	filter INTEGER DEFAULT 0,
	PRIMARY KEY (id, sid));

DROP TABLE IF EXISTS blacklist;
CREATE TABLE blacklist (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	chr TEXT NOT NULL,
	start INTEGER NOT NULL,
	end INTEGER NOT NULL);

DROP TABLE IF EXISTS overlapping_blacklist;
CREATE TABLE overlapping_blacklist (
	blacklist_id INTEGER NOT NULL,
	cluster_id INTEGER NOT NULL,
	cluster_sid INTEGER NOT NULL,
	pos INTEGER NOT NULL,
	len INTEGER NOT NULL,
	FOREIGN KEY (blacklist_id) REFERENCES blacklist(id),
	FOREIGN KEY (cluster_id, cluster_sid) REFERENCES cluster(id, sid),
	PRIMARY KEY (blacklist_id, cluster_id, cluster_sid));

DROP TABLE IF EXISTS cluster_merging;
CREATE TABLE cluster_merging (
	retrocopy_id INTEGER NOT NULL,
	cluster_id INTEGER NOT NULL,
	cluster_sid INTEGER NOT NULL,
	FOREIGN KEY (cluster_id, cluster_sid) REFERENCES cluster(id, sid),
	PRIMARY KEY (retrocopy_id, cluster_id, cluster_sid));

DROP TABLE IF EXISTS retrocopy;
CREATE TABLE retrocopy (
	id INTEGER PRIMARY KEY,
	chr TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	parental_gene_name TEXT NOT NULL,
	level INTEGER NOT NULL,
	insertion_point INTEGER NOT NULL,
	insertion_point_type INTEGER NOT NULL,
	orientation_rho REAL DEFAULT NULL,
	orientation_p_value REAL DEFAULT NULL);

DROP TABLE IF EXISTS genotype;
CREATE TABLE genotype (
	source_id INTEGER NOT NULL,
	retrocopy_id INTEGER NOT NULL,
	reference_depth INTEGER NOT NULL,
	alternate_depth INTEGER NOT NULL,
	ho_ref_likelihood REAL NOT NULL,
	he_likelihood REAL NOT NULL,
	ho_alt_likelihood REAL NOT NULL,
	FOREIGN KEY (source_id) REFERENCES source(id),
	FOREIGN KEY (retrocopy_id) REFERENCES retrocopy(id),
	PRIMARY KEY (source_id, retrocopy_id));
`
