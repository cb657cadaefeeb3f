package db

// One prepared INSERT per table. The statement set is the write API of
// the pipeline: stages receive the statements they are allowed to
// write through and nothing else.

// BatchStmt inserts batch rows.
type BatchStmt struct{ *Stmt }

// PrepareBatch returns the batch INSERT.
func (d *DB) PrepareBatch() (*BatchStmt, error) {
	s, err := d.Prepare("INSERT INTO batch (id,timestamp) VALUES (?,?)")
	return &BatchStmt{s}, err
}

// Insert writes one batch row.
func (s *BatchStmt) Insert(id int64, timestamp string) error {
	return s.Exec(id, timestamp)
}

// SourceStmt inserts source rows.
type SourceStmt struct{ *Stmt }

// PrepareSource returns the source INSERT.
func (d *DB) PrepareSource() (*SourceStmt, error) {
	s, err := d.Prepare("INSERT INTO source (id,batch_id,path) VALUES (?,?,?)")
	return &SourceStmt{s}, err
}

// Insert writes one source row.
func (s *SourceStmt) Insert(id, batchID int64, path string) error {
	return s.Exec(id, batchID, path)
}

// ExonStmt inserts exon rows.
type ExonStmt struct{ *Stmt }

// PrepareExon returns the exon INSERT.
func (d *DB) PrepareExon() (*ExonStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO exon (id,gene_name,chr,start,end,strand,ensg,ense) VALUES (?,?,?,?,?,?,?,?)")
	return &ExonStmt{s}, err
}

// Insert writes one exon row.
func (s *ExonStmt) Insert(id int64, geneName, chrom string, start, end int64,
	strand string, ensg, ense string) error {
	return s.Exec(id, geneName, chrom, start, end, strand, ensg, ense)
}

// AlignmentStmt inserts alignment rows.
type AlignmentStmt struct{ *Stmt }

// PrepareAlignment returns the alignment INSERT.
func (d *DB) PrepareAlignment() (*AlignmentStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO alignment (id,qname,flag,chr,pos,mapq,cigar,qlen,rlen,chr_next,pos_next,type,source_id)\n" +
			"	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)")
	return &AlignmentStmt{s}, err
}

// Insert writes one alignment row.
func (s *AlignmentStmt) Insert(id int64, qname string, flag int, chrom string,
	pos int64, mapq int, cigar string, qlen, rlen int, chromNext string,
	posNext int64, typ int, sourceID int64) error {
	return s.Exec(id, qname, flag, chrom, pos, mapq, cigar, qlen, rlen,
		chromNext, posNext, typ, sourceID)
}

// OverlappingStmt inserts exon/alignment overlap rows.
type OverlappingStmt struct{ *Stmt }

// PrepareOverlapping returns the overlapping INSERT.
func (d *DB) PrepareOverlapping() (*OverlappingStmt, error) {
	s, err := d.Prepare(
		"INSERT OR IGNORE INTO overlapping (exon_id,alignment_id,pos,len) VALUES (?,?,?,?)")
	return &OverlappingStmt{s}, err
}

// Insert writes one overlap row.
func (s *OverlappingStmt) Insert(exonID, alignmentID, pos, length int64) error {
	return s.Exec(exonID, alignmentID, pos, length)
}

// ClusteringStmt inserts labelled clustering points.
type ClusteringStmt struct{ *Stmt }

// PrepareClustering returns the clustering INSERT.
func (d *DB) PrepareClustering() (*ClusteringStmt, error) {
	s, err := d.Prepare(
		"INSERT OR REPLACE INTO clustering (cluster_id,cluster_sid,alignment_id,label,neighbors)\n" +
			"	VALUES (?,?,?,?,?)")
	return &ClusteringStmt{s}, err
}

// Insert writes one clustering row.
func (s *ClusteringStmt) Insert(clusterID, clusterSID, alignmentID int64,
	label, neighbors int) error {
	return s.Exec(clusterID, clusterSID, alignmentID, label, neighbors)
}

// ClusterStmt inserts cluster rows.
type ClusterStmt struct{ *Stmt }

// PrepareCluster returns the cluster INSERT.
func (d *DB) PrepareCluster() (*ClusterStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO cluster (id,sid,chr,start,end,gene_name,filter) VALUES (?,?,?,?,?,?,?)")
	return &ClusterStmt{s}, err
}

// Insert writes one cluster row.
func (s *ClusterStmt) Insert(id, sid int64, chrom string, start, end int64,
	geneName string, filter int) error {
	return s.Exec(id, sid, chrom, start, end, geneName, filter)
}

// BlacklistStmt inserts blacklist rows.
type BlacklistStmt struct{ *Stmt }

// PrepareBlacklist returns the blacklist INSERT.
func (d *DB) PrepareBlacklist() (*BlacklistStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO blacklist (id,name,chr,start,end) VALUES (?,?,?,?,?)")
	return &BlacklistStmt{s}, err
}

// Insert writes one blacklist row.
func (s *BlacklistStmt) Insert(id int64, name, chrom string, start, end int64) error {
	return s.Exec(id, name, chrom, start, end)
}

// OverlappingBlacklistStmt inserts blacklist/cluster overlap rows.
type OverlappingBlacklistStmt struct{ *Stmt }

// PrepareOverlappingBlacklist returns the overlapping_blacklist INSERT.
func (d *DB) PrepareOverlappingBlacklist() (*OverlappingBlacklistStmt, error) {
	s, err := d.Prepare(
		"INSERT OR IGNORE INTO overlapping_blacklist (blacklist_id,cluster_id,cluster_sid,pos,len)\n" +
			"	VALUES (?,?,?,?,?)")
	return &OverlappingBlacklistStmt{s}, err
}

// Insert writes one overlap row.
func (s *OverlappingBlacklistStmt) Insert(blacklistID, clusterID, clusterSID,
	pos, length int64) error {
	return s.Exec(blacklistID, clusterID, clusterSID, pos, length)
}

// ClusterMergingStmt inserts retrocopy/cluster membership rows.
type ClusterMergingStmt struct{ *Stmt }

// PrepareClusterMerging returns the cluster_merging INSERT.
func (d *DB) PrepareClusterMerging() (*ClusterMergingStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO cluster_merging (retrocopy_id,cluster_id,cluster_sid) VALUES (?,?,?)")
	return &ClusterMergingStmt{s}, err
}

// Insert writes one membership row.
func (s *ClusterMergingStmt) Insert(retrocopyID, clusterID, clusterSID int64) error {
	return s.Exec(retrocopyID, clusterID, clusterSID)
}

// RetrocopyStmt inserts retrocopy rows.
type RetrocopyStmt struct{ *Stmt }

// PrepareRetrocopy returns the retrocopy INSERT.
func (d *DB) PrepareRetrocopy() (*RetrocopyStmt, error) {
	s, err := d.Prepare(
		"INSERT INTO retrocopy (id,chr,window_start,window_end,parental_gene_name,level,\n" +
			"		insertion_point,insertion_point_type,orientation_rho,orientation_p_value)\n" +
			"	VALUES (?,?,?,?,?,?,?,?,?,?)")
	return &RetrocopyStmt{s}, err
}

// Insert writes one retrocopy row. Rho and pValue may be nil for
// calls without orientation.
func (s *RetrocopyStmt) Insert(id int64, chrom string, windowStart, windowEnd int64,
	parentalGeneName string, level int, insertionPoint int64,
	insertionPointType int, rho, pValue interface{}) error {
	return s.Exec(id, chrom, windowStart, windowEnd, parentalGeneName, level,
		insertionPoint, insertionPointType, rho, pValue)
}

// GenotypeStmt inserts genotype rows.
type GenotypeStmt struct{ *Stmt }

// PrepareGenotype returns the genotype INSERT.
func (d *DB) PrepareGenotype() (*GenotypeStmt, error) {
	s, err := d.Prepare(
		"INSERT OR REPLACE INTO genotype (source_id,retrocopy_id,reference_depth,alternate_depth,\n" +
			"		ho_ref_likelihood,he_likelihood,ho_alt_likelihood)\n" +
			"	VALUES (?,?,?,?,?,?,?)")
	return &GenotypeStmt{s}, err
}

// Insert writes one genotype row.
func (s *GenotypeStmt) Insert(sourceID, retrocopyID int64, referenceDepth,
	alternateDepth int, hoRef, he, hoAlt float64) error {
	return s.Exec(sourceID, retrocopyID, referenceDepth, alternateDepth,
		hoRef, he, hoAlt)
}
